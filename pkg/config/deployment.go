package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Deployment is the YAML deployment file. It carries what does not fit in
// flat environment variables: admission rules, wallet fixtures and the role
// sets seeded on first start.
type Deployment struct {
	Policy     PolicyConfig `yaml:"policy"`
	Safes      []SafeConfig `yaml:"safes"`
	Proposers  []string     `yaml:"proposers"`
	Validators []string     `yaml:"validators"`
}

// PolicyConfig lists CEL admission rules. Every rule must evaluate to true
// for a vote to be accepted.
type PolicyConfig struct {
	Rules []string `yaml:"rules"`
}

// SafeConfig describes an in-memory wallet.
type SafeConfig struct {
	Address string `yaml:"address"`
	// Modules enabled on the wallet. Empty enables the configured module.
	Modules []string `yaml:"modules"`
}

// LoadDeployment reads and validates the deployment file at path. An empty
// path yields an empty deployment.
func LoadDeployment(path string) (*Deployment, error) {
	if path == "" {
		return &Deployment{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load deployment %q: %w", path, err)
	}
	return ParseDeployment(data)
}

// ParseDeployment decodes a deployment document. Unknown keys are rejected.
func ParseDeployment(data []byte) (*Deployment, error) {
	var d Deployment
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse deployment: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks that every address in the deployment is well formed.
func (d *Deployment) Validate() error {
	var errs []error
	check := func(field, v string) {
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Errorf("deployment %s %q is not an address", field, v))
		}
	}
	for _, s := range d.Safes {
		check("safe", s.Address)
		for _, m := range s.Modules {
			check("module", m)
		}
	}
	for _, p := range d.Proposers {
		check("proposer", p)
	}
	for _, v := range d.Validators {
		check("validator", v)
	}
	return errors.Join(errs...)
}

// Addresses converts hex strings that passed Validate.
func Addresses(hex []string) []common.Address {
	out := make([]common.Address, 0, len(hex))
	for _, h := range hex {
		out = append(out, common.HexToAddress(h))
	}
	return out
}
