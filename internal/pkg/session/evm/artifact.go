package evm

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

//go:embed abi/*.json
var abiFS embed.FS

var ErrNoBytecode = errors.New("artifact has no bytecode")

// Artifact is a compiled contract as emitted by hardhat or solc
// (`{"abi": [...], "bytecode": "0x..."}`).
type Artifact struct {
	ABI      abi.ABI
	Bytecode []byte
}

type rawArtifact struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode string          `json:"bytecode"`
}

func ParseArtifact(data []byte) (*Artifact, error) {
	var raw rawArtifact

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact: %w", err)
	}

	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse artifact abi: %w", err)
	}

	result := &Artifact{
		ABI: parsed,
	}

	code := strings.TrimSpace(raw.Bytecode)
	if code != "" && code != "0x" {
		if !strings.HasPrefix(code, "0x") {
			code = "0x" + code
		}

		result.Bytecode, err = hexutil.Decode(code)
		if err != nil {
			return nil, fmt.Errorf("failed to decode artifact bytecode: %w", err)
		}
	}

	return result, nil
}

func LoadArtifact(path string) (*Artifact, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}

	return ParseArtifact(data)
}

func embeddedABI(name string) (abi.ABI, error) {
	data, err := abiFS.ReadFile("abi/" + name + ".json")
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to read embedded abi %s: %w", name, err)
	}

	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse embedded abi %s: %w", name, err)
	}

	return parsed, nil
}

func GameRouterABI() (abi.ABI, error) {
	return embeddedABI("GameRouter")
}

func RewardEngineABI() (abi.ABI, error) {
	return embeddedABI("RewardEngine")
}
