package snapshot

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"
)

//go:embed schema.json
var messageSchema string

const schemaURL = "https://votebridge.local/schemas/vote-message.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(messageSchema)); err != nil {
			compileErr = fmt.Errorf("snapshot: add schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// Validate checks that m can be committed to: the version is a strict semver
// tag, the text fields are NFC-normalized, and the encoded message satisfies
// the message schema.
func Validate(m Message) error {
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("%w: version %q: %v", ErrInvalidMessage, m.Version, err)
	}
	if m.Timestamp < 0 {
		return fmt.Errorf("%w: negative timestamp", ErrInvalidMessage)
	}
	for name, v := range map[string]string{
		"space":    m.Space,
		"type":     m.Type,
		"proposal": m.Payload.Proposal,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidMessage, name)
		}
		if !norm.NFC.IsNormalString(v) {
			return fmt.Errorf("%w: %s is not NFC-normalized", ErrInvalidMessage, name)
		}
	}

	msg, err := Encode(m)
	if err != nil {
		return err
	}
	s, err := schema()
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}
