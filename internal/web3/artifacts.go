package web3

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Artifact names looked up by the capabilities.
const (
	ArtifactToken = "token"
	ArtifactNFT   = "nft"
)

// Artifact holds a compiled contract: its ABI and creation bytecode.
type Artifact struct {
	Name     string
	ABI      string
	Bytecode []byte
}

// Artifacts is a read-only set of compiled contracts keyed by file name.
type Artifacts struct {
	items map[string]Artifact
}

type artifactFile struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
}

// LoadArtifacts reads every *.json file in dir. Files follow the common
// compiler output shape {"abi": [...], "bytecode": "0x..."}. An empty dir
// yields an empty set.
func LoadArtifacts(dir string) (*Artifacts, error) {
	set := &Artifacts{items: map[string]Artifact{}}
	if strings.TrimSpace(dir) == "" {
		return set, nil
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("扫描合约制品目录失败: %w", err)
	}
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取合约制品 %s 失败: %w", path, err)
		}
		var file artifactFile
		if err := json.Unmarshal(content, &file); err != nil {
			return nil, fmt.Errorf("解析合约制品 %s 失败: %w", path, err)
		}
		name := strings.ToLower(strings.TrimSuffix(filepath.Base(path), ".json"))
		set.items[name] = Artifact{
			Name:     name,
			ABI:      string(file.ABI),
			Bytecode: common.FromHex(file.Bytecode),
		}
	}
	return set, nil
}

// NewArtifacts builds a set from in-memory artifacts.
func NewArtifacts(items ...Artifact) *Artifacts {
	set := &Artifacts{items: make(map[string]Artifact, len(items))}
	for _, item := range items {
		set.items[strings.ToLower(item.Name)] = item
	}
	return set
}

// Get returns a deployable artifact. Artifacts without bytecode are ABI-only
// and are not returned.
func (a *Artifacts) Get(name string) (Artifact, bool) {
	if a == nil {
		return Artifact{}, false
	}
	item, ok := a.items[strings.ToLower(name)]
	if !ok || len(item.Bytecode) == 0 {
		return Artifact{}, false
	}
	return item, true
}

// ABI returns the ABI stored under name, or fallback when none is present.
func (a *Artifacts) ABI(name, fallback string) string {
	if a == nil {
		return fallback
	}
	if item, ok := a.items[strings.ToLower(name)]; ok && len(item.ABI) > 0 {
		return item.ABI
	}
	return fallback
}
