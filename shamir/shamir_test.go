package shamir

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sperax/keyserver/cryptoutil"
)

func idNumbers(n int) []*big.Int {
	xs := make([]*big.Int, n)
	for i := range xs {
		xs[i] = big.NewInt(int64(i + 1))
	}
	return xs
}

func TestPolynomialEvalMatchesSecretAtZero(t *testing.T) {
	secret, err := cryptoutil.RandomScalar()
	require.Nil(t, err)

	p, err := Generate(secret, 3)
	require.Nil(t, err)

	assert.Equal(t, 0, secret.Cmp(p.Eval(big.NewInt(0))))
}

func TestVerifyShareAcceptsGenuineShare(t *testing.T) {
	secret, err := cryptoutil.RandomScalar()
	require.Nil(t, err)
	p, err := Generate(secret, 2)
	require.Nil(t, err)

	coeffs := p.PublicCoeffs()
	x := big.NewInt(7)
	share := p.Eval(x)

	assert.True(t, VerifyShare(share, x, coeffs))

	tampered := new(big.Int).Add(share, big.NewInt(1))
	assert.False(t, VerifyShare(tampered, x, coeffs))
}

// TestShamirCombineAnyThresholdSubset is the §8 quantified property: any
// t+1 shares reconstruct the same secret, regardless of which subset.
func TestShamirCombineAnyThresholdSubset(t *testing.T) {
	const threshold = 2 // t+1 = 3 shares needed
	const n = 5

	secret, err := cryptoutil.RandomScalar()
	require.Nil(t, err)
	p, err := Generate(secret, threshold)
	require.Nil(t, err)

	xs := idNumbers(n)
	shares := make([]*big.Int, n)
	for i, x := range xs {
		shares[i] = p.Eval(x)
	}

	subsets := [][]int{{0, 1, 2}, {1, 2, 3}, {2, 3, 4}, {0, 2, 4}}
	for _, subset := range subsets {
		subXs := make([]*big.Int, len(subset))
		subShares := make([]*big.Int, len(subset))
		for k, idx := range subset {
			subXs[k] = xs[idx]
			subShares[k] = shares[idx]
		}
		combined := CombineScalarShares(subXs, subShares)
		assert.Equal(t, 0, secret.Cmp(combined), "subset %v should reconstruct the secret", subset)
	}
}

func TestCombinePublicPointsMatchesScalarCombination(t *testing.T) {
	const threshold = 1
	secret, err := cryptoutil.RandomScalar()
	require.Nil(t, err)
	p, err := Generate(secret, threshold)
	require.Nil(t, err)

	xs := idNumbers(3)
	points := make([]cryptoutil.PublicKey, len(xs))
	for i, x := range xs {
		points[i] = cryptoutil.BasePointMult(p.Eval(x))
	}

	combined := CombinePublicPoints(xs[:threshold+1], points[:threshold+1])
	expected := cryptoutil.BasePointMult(secret)
	assert.True(t, combined.Equal(expected))
}

func TestSumSharesMatchesJointSecret(t *testing.T) {
	// Two nodes each contribute a polynomial; a third node's share of the
	// joint secret is the sum of what it received from each (§4.5 step 6).
	secretA, err := cryptoutil.RandomScalar()
	require.Nil(t, err)
	secretB, err := cryptoutil.RandomScalar()
	require.Nil(t, err)

	pa, err := Generate(secretA, 1)
	require.Nil(t, err)
	pb, err := Generate(secretB, 1)
	require.Nil(t, err)

	x := big.NewInt(3)
	mine := SumShares([]*big.Int{pa.Eval(x), pb.Eval(x)})

	jointSecret := new(big.Int).Mod(new(big.Int).Add(secretA, secretB), cryptoutil.N)
	jointPoly := Polynomial{jointSecret, new(big.Int).Mod(new(big.Int).Add(pa[1], pb[1]), cryptoutil.N)}
	assert.Equal(t, 0, mine.Cmp(jointPoly.Eval(x)))
}
