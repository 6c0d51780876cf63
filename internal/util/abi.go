package util

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// LoadABI parses a bare ABI JSON array from disk, the shape produced by
// solc/forge `--abi` output.
func LoadABI(path string) (abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("open abi file %s: %w", path, err)
	}
	defer f.Close()

	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi file %s: %w", path, err)
	}
	return parsed, nil
}

// hardhatArtifact mirrors the subset of a Hardhat/Foundry build artifact
// this engine needs: the ABI member, ignoring bytecode and source maps.
type hardhatArtifact struct {
	ABI json.RawMessage `json:"abi"`
}

// LoadABIFromHardhatArtifact extracts the "abi" field from a Hardhat-style
// build artifact JSON file (contractName.json produced under artifacts/).
func LoadABIFromHardhatArtifact(path string) (abi.ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read artifact %s: %w", path, err)
	}

	var artifact hardhatArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return abi.ABI{}, fmt.Errorf("unmarshal artifact %s: %w", path, err)
	}
	if len(artifact.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("artifact %s has no abi field", path)
	}

	parsed, err := abi.JSON(strings.NewReader(string(artifact.ABI)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi from artifact %s: %w", path, err)
	}
	return parsed, nil
}

// Hex2Bytes strips an optional "0x" prefix and decodes the remainder,
// mirroring go-ethereum's common.Hex2Bytes: invalid hex yields nil rather
// than an error, since callers treat it as raw calldata, not user input.
func Hex2Bytes(s string) []byte {
	trimmed := strings.TrimPrefix(s, "0x")
	trimmed = strings.TrimPrefix(trimmed, "0X")
	if len(trimmed)%2 != 0 {
		trimmed = "0" + trimmed
	}
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil
	}
	return b
}
