package solidity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/rollno10/crossContractObfuscation/internal/cache"
	"github.com/rollno10/crossContractObfuscation/internal/model"
)

// Compiler is the external validation and structural-tree collaborator.
type Compiler interface {
	// Validate returns nil on success, a *model.ValidationError when the
	// compiler rejects the unit, or model.ErrCompilerUnavailable.
	Validate(ctx context.Context, unit model.Unit) error
	// StructuralTree returns the compact AST and per-contract ABIs of a unit.
	StructuralTree(ctx context.Context, unit model.Unit) (*Tree, error)
}

// ASTCompact represents a subset of solc compact AST output.
type ASTCompact struct {
	AbsolutePath    string           `json:"absolutePath"`
	ExportedSymbols map[string][]int `json:"exportedSymbols"`
	Nodes           []map[string]any `json:"nodes"`
}

// Tree is the structural output of one compiler run.
type Tree struct {
	AST  *ASTCompact
	ABIs map[string]json.RawMessage
}

type standardInput struct {
	Language string                    `json:"language"`
	Sources  map[string]standardSource `json:"sources"`
	Settings map[string]any            `json:"settings"`
}

type standardSource struct {
	Content string `json:"content"`
}

type standardError struct {
	Severity         string `json:"severity"`
	Type             string `json:"type"`
	Message          string `json:"message"`
	FormattedMessage string `json:"formattedMessage"`
}

type standardOutput struct {
	Errors  []standardError `json:"errors"`
	Sources map[string]struct {
		AST json.RawMessage `json:"ast"`
	} `json:"sources"`
	Contracts map[string]map[string]struct {
		ABI json.RawMessage `json:"abi"`
	} `json:"contracts"`
}

var reImport = regexp.MustCompile(`(?m)^\s*import\b`)

// Solc drives `solc --standard-json`. The unit is fed on stdin and imports are
// resolved relative to the unit's directory.
type Solc struct {
	Path    string
	Timeout time.Duration
}

func NewSolc(path string, timeout time.Duration) *Solc {
	if path == "" {
		path = "solc"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Solc{Path: path, Timeout: timeout}
}

func (s *Solc) Validate(ctx context.Context, unit model.Unit) error {
	_, err := s.compile(ctx, unit)
	return err
}

func (s *Solc) StructuralTree(ctx context.Context, unit model.Unit) (*Tree, error) {
	out, err := s.compile(ctx, unit)
	if err != nil {
		return nil, err
	}
	tree := &Tree{ABIs: map[string]json.RawMessage{}}
	if src, ok := out.Sources[unit.Name]; ok && len(src.AST) > 0 {
		var ast ASTCompact
		if err := json.Unmarshal(src.AST, &ast); err != nil {
			return nil, fmt.Errorf("decode ast for %s: %w", unit.Name, err)
		}
		tree.AST = &ast
	}
	for _, contracts := range out.Contracts {
		for name, c := range contracts {
			tree.ABIs[name] = c.ABI
		}
	}
	return tree, nil
}

func (s *Solc) compile(ctx context.Context, unit model.Unit) (*standardOutput, error) {
	in := standardInput{
		Language: "Solidity",
		Sources:  map[string]standardSource{unit.Name: {Content: unit.Content}},
		Settings: map[string]any{
			"outputSelection": map[string]any{
				"*": map[string]any{"*": []string{"abi"}, "": []string{"ast"}},
			},
		},
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	// results depend on imported files when the unit has imports, so only
	// self-contained units are cached
	cacheable := !reImport.MatchString(Mask(unit.Content))
	key := cache.Key("solc-standard-json", s.Path, unit.Name, unit.Content)
	var raw []byte
	if cached, ok := cache.Load(key); ok && cacheable {
		raw = cached
	} else {
		raw, err = s.run(ctx, unit, payload)
		if err != nil {
			return nil, err
		}
	}

	var out standardOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode solc output for %s: %w", unit.Name, err)
	}
	if cacheable {
		_ = cache.Store(key, raw)
	}
	var msgs []string
	for _, e := range out.Errors {
		if strings.EqualFold(e.Severity, "error") {
			msg := strings.TrimSpace(e.FormattedMessage)
			if msg == "" {
				msg = e.Type + ": " + e.Message
			}
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) > 0 {
		return nil, &model.ValidationError{Unit: unit.Name, Message: strings.Join(msgs, "\n")}
	}
	return &out, nil
}

func (s *Solc) run(ctx context.Context, unit model.Unit, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, s.Path, "--standard-json", "--base-path", ".", "--allow-paths", ".")
	if unit.Path != "" {
		cmd.Dir = filepath.Dir(unit.Path)
	}
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	start := time.Now()
	out, err := cmd.Output()
	log.WithFields(log.Fields{"unit": unit.Name, "elapsed": time.Since(start)}).Debug("solc")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, exec.ErrDot) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", model.ErrCompilerUnavailable, s.Path)
		}
		var pe *exec.Error
		if errors.As(err, &pe) {
			return nil, fmt.Errorf("%w: %v", model.ErrCompilerUnavailable, pe)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("solc %s: %w: %s", unit.Name, err, strings.TrimSpace(stderr.String()))
		}
	}
	return out, nil
}
