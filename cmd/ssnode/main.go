// BSD 3-Clause License
//
// Copyright (c) 2020, Sperax
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// 1. Redistributions of source code must retain the above copyright notice, this
//    list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright notice,
//    this list of conditions and the following disclaimer in the documentation
//    and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/davecgh/go-spew/spew"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	keyserver "github.com/sperax/keyserver"
	"github.com/sperax/keyserver/cryptoutil"
	"github.com/sperax/keyserver/server"
	"github.com/sperax/keyserver/storage"
)

// nodeKeyFile is the on-disk form of a node's long-term keypair.
type nodeKeyFile struct {
	Private string `json:"private"`
	Public  string `json:"public"`
}

// peerEntry is one line of the shared peers.json membership file.
type peerEntry struct {
	Public string `json:"public"`
	Addr   string `json:"addr"`
}

func main() {
	app := &cli.App{
		Name:                 "ssnode",
		Usage:                "run or administer a secret-store cluster node",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "genkey",
				Usage: "generate this node's long-term keypair",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Value: "./node.json", Usage: "output keypair file"},
				},
				Action: func(c *cli.Context) error {
					priv, err := cryptoutil.GenerateKey()
					if err != nil {
						return err
					}
					out := nodeKeyFile{
						Private: hex.EncodeToString(priv.D.Bytes()),
						Public:  hex.EncodeToString(priv.Public.Bytes()),
					}
					file, err := os.Create(c.String("out"))
					if err != nil {
						return err
					}
					defer file.Close()
					enc := json.NewEncoder(file)
					enc.SetIndent("", "\t")
					if err := enc.Encode(out); err != nil {
						return err
					}
					log.Println("wrote keypair to", c.String("out"), "public", out.Public)
					return nil
				},
			},
			{
				Name:  "run",
				Usage: "start a cluster node and accept interactive commands",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Value: ":7472", Usage: "this node's listen address"},
					&cli.StringFlag{Name: "key", Value: "./node.json", Usage: "this node's keypair file"},
					&cli.StringFlag{Name: "peers", Value: "./peers.json", Usage: "the shared cluster membership file"},
					&cli.StringFlag{Name: "data", Value: "./data", Usage: "directory document key shares are persisted under"},
					&cli.IntFlag{Name: "threads", Value: 4, Usage: "stored in the node config; not read by any component"},
				},
				Action: runCommand,
			},
		},
		Action: func(c *cli.Context) error {
			cli.ShowAppHelp(c)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadNodeKey(path string) (*cryptoutil.PrivateKey, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var kf nodeKeyFile
	if err := json.NewDecoder(file).Decode(&kf); err != nil {
		return nil, err
	}
	d, err := hex.DecodeString(kf.Private)
	if err != nil {
		return nil, err
	}
	pub, err := hex.DecodeString(kf.Public)
	if err != nil {
		return nil, err
	}
	public, err := cryptoutil.ParsePublicKey(pub)
	if err != nil {
		return nil, err
	}
	return &cryptoutil.PrivateKey{D: new(big.Int).SetBytes(d), Public: public}, nil
}

func loadPeers(path string) ([]keyserver.ClusterMember, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []peerEntry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, err
	}
	members := make([]keyserver.ClusterMember, 0, len(entries))
	for _, e := range entries {
		raw, err := hex.DecodeString(e.Public)
		if err != nil {
			return nil, err
		}
		id, err := cryptoutil.ParsePublicKey(raw)
		if err != nil {
			return nil, err
		}
		members = append(members, keyserver.ClusterMember{Id: id, Addr: e.Addr})
	}
	return members, nil
}

func runCommand(c *cli.Context) error {
	priv, err := loadNodeKey(c.String("key"))
	if err != nil {
		return err
	}
	members, err := loadPeers(c.String("peers"))
	if err != nil {
		return err
	}
	// make sure this node is a member of its own cluster, the way
	// Config.Validate requires (§3).
	self := false
	for _, m := range members {
		if m.Id.Equal(priv.Public) {
			self = true
		}
	}
	if !self {
		members = append(members, keyserver.ClusterMember{Id: priv.Public, Addr: c.String("listen")})
	}

	config := &keyserver.Config{
		ListenAddr: c.String("listen"),
		DataPath:   c.String("data"),
		PrivateKey: priv,
		Nodes:      members,
		Threads:    c.Int("threads"),
	}

	if err := os.MkdirAll(config.DataPath, 0o755); err != nil {
		return err
	}
	keys, err := storage.OpenLevelDBKeyStorage(config.DataPath)
	if err != nil {
		return err
	}
	acl := storage.NewStaticAclStorage()

	node, err := server.New(config, keys, acl, log.Default())
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return err
	}
	defer node.Close()

	log.Println("listening on", config.ListenAddr, "as", keyserver.NodeKey(priv.Public))
	log.Println("cluster size", len(members), "data path", config.DataPath)

	return repl(node, priv)
}

// repl drives the facade interactively, the way the teacher's run command
// drives its consensus loop from stdin-free background goroutines — here
// the loop reads operator commands instead of proposing fresh blocks.
func repl(node *server.KeyServer, priv *cryptoutil.PrivateKey) error {
	fmt.Println("commands: status | gen <docid-hex> <threshold> | get <docid-hex> | shadow <docid-hex> | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "status":
			printStatus(node)
		case "gen":
			if len(fields) != 3 {
				fmt.Println("usage: gen <docid-hex> <threshold>")
				continue
			}
			threshold, err := strconv.Atoi(fields[2])
			if err != nil {
				fmt.Println(err)
				continue
			}
			runGenerate(node, priv, fields[1], threshold)
		case "get":
			if len(fields) != 2 {
				fmt.Println("usage: get <docid-hex>")
				continue
			}
			runGet(node, priv, fields[1])
		case "shadow":
			if len(fields) != 2 {
				fmt.Println("usage: shadow <docid-hex>")
				continue
			}
			runShadow(node, priv, fields[1])
		default:
			fmt.Println("unknown command", fields[0])
		}
	}
	return scanner.Err()
}

func parseDocID(hexID string) (keyserver.SessionId, error) {
	var id keyserver.SessionId
	raw, err := hex.DecodeString(hexID)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("document id must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func runGenerate(node *server.KeyServer, priv *cryptoutil.PrivateKey, hexID string, threshold int) {
	id, err := parseDocID(hexID)
	if err != nil {
		fmt.Println(err)
		return
	}
	sig, err := cryptoutil.Sign(priv, id[:])
	if err != nil {
		fmt.Println(err)
		return
	}
	ciphertext, err := node.GenerateDocumentKey(sig, id, threshold)
	if err != nil {
		fmt.Println("generate failed:", err)
		return
	}
	fmt.Println("document key ciphertext:", hex.EncodeToString(ciphertext), bytefmt.ByteSize(uint64(len(ciphertext))))
}

func runGet(node *server.KeyServer, priv *cryptoutil.PrivateKey, hexID string) {
	id, err := parseDocID(hexID)
	if err != nil {
		fmt.Println(err)
		return
	}
	sig, err := cryptoutil.Sign(priv, id[:])
	if err != nil {
		fmt.Println(err)
		return
	}
	ciphertext, err := node.DocumentKey(sig, id)
	if err != nil {
		fmt.Println("retrieve failed:", err)
		return
	}
	fmt.Println("document key ciphertext:", hex.EncodeToString(ciphertext))
}

func runShadow(node *server.KeyServer, priv *cryptoutil.PrivateKey, hexID string) {
	id, err := parseDocID(hexID)
	if err != nil {
		fmt.Println(err)
		return
	}
	sig, err := cryptoutil.Sign(priv, id[:])
	if err != nil {
		fmt.Println(err)
		return
	}
	result, err := node.DocumentKeyShadow(sig, id)
	if err != nil {
		fmt.Println("shadow retrieve failed:", err)
		return
	}
	spew.Dump(result)
}

func printStatus(node *server.KeyServer) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"peer"})
	for _, peer := range node.ConnectedNodes() {
		table.Append([]string{keyserver.NodeKey(peer)})
	}
	table.Render()
}
