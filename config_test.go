package keyserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sperax/keyserver/cryptoutil"
)

func genMember(t *testing.T, addr string) ClusterMember {
	priv, err := cryptoutil.GenerateKey()
	require.Nil(t, err)
	return ClusterMember{Id: priv.Public, Addr: addr}
}

func TestValidateConfig(t *testing.T) {
	config := new(Config)

	err := config.Validate()
	assert.Equal(t, ErrInvalidNodeAddress, KindOf(err))

	config.ListenAddr = "127.0.0.1:6060"
	err = config.Validate()
	assert.Equal(t, ErrInvalidNodeID, KindOf(err))

	priv, genErr := cryptoutil.GenerateKey()
	require.Nil(t, genErr)
	config.PrivateKey = priv

	err = config.Validate()
	assert.Equal(t, ErrInvalidNodesCount, KindOf(err))

	config.Nodes = append(config.Nodes, genMember(t, "127.0.0.1:6061"))
	config.Nodes = append(config.Nodes, genMember(t, "127.0.0.1:6062"))

	err = config.Validate()
	assert.Equal(t, ErrInvalidNodesConfiguration, KindOf(err))

	config.Nodes = append(config.Nodes, ClusterMember{Id: priv.Public, Addr: config.ListenAddr})
	err = config.Validate()
	assert.Nil(t, err)
	assert.Equal(t, 1, config.Threads)
	assert.Equal(t, DefaultKeyCheckTimeoutMs, config.KeyCheckTimeoutMs)
}

func TestValidateConfigRejectsDuplicateNode(t *testing.T) {
	config := new(Config)
	priv, err := cryptoutil.GenerateKey()
	require.Nil(t, err)

	config.ListenAddr = "127.0.0.1:6060"
	config.PrivateKey = priv
	config.Nodes = []ClusterMember{
		{Id: priv.Public, Addr: config.ListenAddr},
		{Id: priv.Public, Addr: "127.0.0.1:6061"},
	}

	err = config.Validate()
	assert.Equal(t, ErrInvalidNodesConfiguration, KindOf(err))
}
