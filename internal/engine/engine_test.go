package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollno10/crossContractObfuscation/internal/config"
	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/predicate"
	"github.com/rollno10/crossContractObfuscation/internal/selector"
	"github.com/rollno10/crossContractObfuscation/internal/solidity"
	"github.com/rollno10/crossContractObfuscation/internal/storage"
)

const walletSrc = `pragma solidity ^0.8.20;

interface IERC20 {
    function transfer(address to, uint256 amount) external returns (bool);
}

contract Wallet {
    IERC20 Token;
    address owner;

    function pay(address to, uint256 amount) external {
        require(msg.sender == owner, "owner only");
        Token.transfer(to, amount);
    }
}
`

const deployerSrc = `pragma solidity ^0.8.20;

contract Vault {
    address public owner;
    uint256 public cap;

    constructor(address _owner, uint256 _cap) {
        owner = _owner;
        cap = _cap;
    }
}

contract Deployer {
    function make(address owner) external returns (Vault) {
        return new Vault(owner, 100);
    }
}
`

const proxySrc = `pragma solidity ^0.8.20;

contract SimpleProxy {
    address public implementation;
    address public admin;

    constructor(address impl) {
        implementation = impl;
        admin = msg.sender;
    }

    fallback() external payable {
        (bool ok, bytes memory out) = implementation.delegatecall(msg.data);
        require(ok);
        assembly {
            return(add(out, 32), mload(out))
        }
    }
}
`

// fakeCompiler rejects units containing "// broken" and never produces a tree.
type fakeCompiler struct {
	unavailable bool
}

func (f fakeCompiler) Validate(_ context.Context, u model.Unit) error {
	if f.unavailable {
		return fmt.Errorf("%w: solc not on PATH", model.ErrCompilerUnavailable)
	}
	if strings.Contains(u.Content, "// broken") {
		return &model.ValidationError{Unit: u.Name, Message: "ParserError: Expected ';'"}
	}
	return nil
}

func (f fakeCompiler) StructuralTree(context.Context, model.Unit) (*solidity.Tree, error) {
	return nil, fmt.Errorf("%w: solc not on PATH", model.ErrCompilerUnavailable)
}

type fixture struct {
	cfg   config.Config
	input string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	input := filepath.Join(root, "contracts")
	files := map[string]string{
		"Wallet.sol":         walletSrc,
		"Deployer.sol":       deployerSrc,
		"SimpleProxy.sol":    proxySrc,
		"Plain.sol":          "contract Plain {}\n",
		"Broken.sol":         "pragma solidity ^0.8.20;\n// broken\ncontract Broken { uint x }\n",
		"Vendored.sol":       "// ccobf:ignore vendored copy\npragma solidity ^0.8.20;\ncontract V { function f() external { a.b(); } }\n",
		"README.md":          "not a unit",
		"node_modules/X.sol": "pragma solidity ^0.8.20;\ncontract X {}\n",
	}
	for name, content := range files {
		p := filepath.Join(input, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	cfg := config.Default()
	cfg.AnalysisDir = filepath.Join(root, "analysis")
	cfg.OutputDir = filepath.Join(root, "out", "obfuscated")
	cfg.WorkDir = filepath.Join(root, "work")
	cfg.Seed = 42
	cfg.Workers = 2
	return fixture{cfg: cfg, input: input}
}

func diagFor(diags []model.Diagnostic, unit, class string) (model.Diagnostic, bool) {
	for _, d := range diags {
		if d.Unit == unit && d.Class == class {
			return d, true
		}
	}
	return model.Diagnostic{}, false
}

func TestAnalyze(t *testing.T) {
	fx := newFixture(t)
	ar, err := New(fx.cfg, fakeCompiler{}).Analyze(context.Background(), fx.input)
	require.NoError(t, err)

	assert.Equal(t, 4, ar.Units, "Wallet, Deployer, SimpleProxy, Plain")
	assert.FileExists(t, ar.RuleStorePath)
	assert.Equal(t, fx.cfg.AnalysisDir, filepath.Dir(ar.RuleStorePath))

	var wallet []model.Interaction
	for _, r := range ar.Interactions {
		if r.Caller == "Wallet.sol" {
			wallet = append(wallet, r)
		}
		assert.NotEqual(t, "Broken.sol", r.Caller)
		assert.NotEqual(t, "Vendored.sol", r.Caller)
		assert.NotEqual(t, "X.sol", r.Caller)
	}
	require.Len(t, wallet, 1)
	assert.Equal(t, model.KindHighLevel, wallet[0].Kind)
	assert.Equal(t, model.RoleInitiator, wallet[0].Role)

	d, ok := diagFor(ar.Diagnostics, "Broken.sol", model.ClassValidation)
	require.True(t, ok)
	assert.Equal(t, model.SeverityError, d.Severity)
	d, ok = diagFor(ar.Diagnostics, "Plain.sol", model.ClassSkip)
	require.True(t, ok)
	assert.Equal(t, model.SeverityInfo, d.Severity)
	_, ok = diagFor(ar.Diagnostics, "Vendored.sol", model.ClassTransform)
	assert.True(t, ok, "ignored units are reported")
}

func TestAnalyze_MissingInputIsFatal(t *testing.T) {
	fx := newFixture(t)
	_, err := New(fx.cfg, nil).Analyze(context.Background(), filepath.Join(fx.input, "nope"))
	assert.Error(t, err)
}

func TestObfuscate_WithoutRuleStore(t *testing.T) {
	fx := newFixture(t)
	_, err := New(fx.cfg, fakeCompiler{}).Obfuscate(context.Background(), fx.input)
	assert.True(t, errors.Is(err, model.ErrNoRuleStore))
}

func TestRun_EndToEnd(t *testing.T) {
	fx := newFixture(t)
	ledger, err := storage.Open(filepath.Join(t.TempDir(), "ccobf.db"))
	require.NoError(t, err)
	defer ledger.Close()

	_, res, err := New(fx.cfg, fakeCompiler{}, WithLedger(ledger)).Run(context.Background(), fx.input)
	require.NoError(t, err)

	require.Len(t, res.Stages, 5)
	for i, id := range []string{"opaque_predicates", "dynamic_dispatch", "factory", "proxy", "lowering"} {
		assert.Equal(t, id, res.Stages[i].Stage)
		assert.Equal(t, 4, res.Stages[i].Units)
		assert.Zero(t, res.Stages[i].Failed)
	}

	entries, err := os.ReadDir(fx.cfg.OutputDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"Deployer.sol", "Plain.sol", "SimpleProxy.sol", "Wallet.sol", RegistryFile}, names)

	read := func(name string) string {
		b, err := os.ReadFile(filepath.Join(fx.cfg.OutputDir, name))
		require.NoError(t, err)
		return string(b)
	}

	wallet := read("Wallet.sol")
	guards := 0
	for _, e := range predicate.Entries(model.RoleInitiator, model.KindHighLevel) {
		guards += strings.Count(wallet, e)
	}
	assert.Equal(t, 1, guards, "one inert guard at function entry")
	assert.Contains(t, wallet, `require(msg.sig == bytes4(keccak256("pay(address,uint256)")), "Invalid function selector");`)
	assert.Contains(t, wallet, `{ (bool success, ) = address(Token).call(abi.encodeWithSignature("transfer(address,uint256)", to, amount)); require(success, "transfer failed"); }`)
	assert.NotContains(t, wallet, "Token.transfer(to, amount);")

	deployer := read("Deployer.sol")
	assert.Contains(t, deployer, "return ObfuscatedFactory_Vault.deploy(")
	assert.Contains(t, deployer, "library ObfuscatedFactory_Vault {")

	proxy := read("SimpleProxy.sol")
	assert.Contains(t, proxy, "address impl = _ccobfLookupImplementation(msg.sig);")
	assert.Contains(t, proxy, "function realImplementation() external view onlyAdmin returns (address)")

	assert.Equal(t, "contract Plain {}\n", read("Plain.sol"))

	reg, err := selector.Load(res.RegistryPath)
	require.NoError(t, err)
	assert.Equal(t, res.Selectors, reg.Len())
	var sigs []string
	for _, e := range reg.Snapshot() {
		sigs = append(sigs, e.FunctionSignature)
	}
	assert.Contains(t, sigs, "pay(address,uint256)")

	for _, d := range []string{"a", "b"} {
		left, _ := filepath.Glob(filepath.Join(fx.cfg.WorkDir, d, "*.sol"))
		assert.Empty(t, left, "intermediates purged")
	}

	runs, err := ledger.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 4, runs[0].Units)
	assert.Equal(t, res.Selectors, runs[0].Selectors)
}

func TestRun_SeededIsReproducible(t *testing.T) {
	fx := newFixture(t)
	outputs := make([]map[string]string, 2)
	for i := range outputs {
		cfg := fx.cfg
		cfg.OutputDir = filepath.Join(t.TempDir(), "out")
		_, _, err := New(cfg, fakeCompiler{}).Run(context.Background(), fx.input)
		require.NoError(t, err)
		outputs[i] = map[string]string{}
		for _, n := range []string{"Wallet.sol", "Deployer.sol", "SimpleProxy.sol", RegistryFile} {
			b, err := os.ReadFile(filepath.Join(cfg.OutputDir, n))
			require.NoError(t, err)
			outputs[i][n] = string(b)
		}
	}
	assert.Equal(t, outputs[0], outputs[1])
}

func TestObfuscate_DisabledStagesPassThrough(t *testing.T) {
	fx := newFixture(t)
	fx.cfg.Stages = config.Stages{Proxy: true}
	eng := New(fx.cfg, fakeCompiler{})
	_, res, err := eng.Run(context.Background(), fx.input)
	require.NoError(t, err)
	require.Len(t, res.Stages, 1)
	assert.Equal(t, "proxy", res.Stages[0].Stage)
	assert.Equal(t, 1, res.Stages[0].Changed)

	b, err := os.ReadFile(filepath.Join(fx.cfg.OutputDir, "Wallet.sol"))
	require.NoError(t, err)
	assert.Equal(t, walletSrc, string(b))
	assert.Zero(t, res.Selectors)
}

func TestObfuscate_CompilerUnavailableKeepsUnits(t *testing.T) {
	fx := newFixture(t)
	ar, res, err := New(fx.cfg, fakeCompiler{unavailable: true}).Run(context.Background(), fx.input)
	require.NoError(t, err)
	assert.Equal(t, 5, ar.Units, "Broken.sol is no longer rejected")
	assert.Equal(t, 5, res.Stages[0].Units)

	var warnings int
	for _, d := range ar.Diagnostics {
		if d.Stage == "validate" && d.Class == model.ClassPipeline {
			warnings++
			assert.Equal(t, model.SeverityWarning, d.Severity)
		}
	}
	assert.Equal(t, 1, warnings)
}

func TestDiscoverUnits_SingleFile(t *testing.T) {
	fx := newFixture(t)
	units, diags, err := discoverUnits(filepath.Join(fx.input, "Wallet.sol"), fx.cfg)
	require.NoError(t, err)
	assert.Empty(t, diags)
	require.Len(t, units, 1)
	assert.Equal(t, "Wallet.sol", units[0].Name)

	_, _, err = discoverUnits(filepath.Join(fx.input, "README.md"), fx.cfg)
	assert.Error(t, err)
}

func TestSameUnitSet(t *testing.T) {
	a := []model.Unit{{Name: "A.sol"}, {Name: "B.sol"}}
	assert.NoError(t, sameUnitSet(a, []model.Unit{{Name: "B.sol"}, {Name: "A.sol"}}))
	err := sameUnitSet(a, []model.Unit{{Name: "A.sol"}, {Name: "C.sol"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing [B.sol]")
	assert.Contains(t, err.Error(), "unexpected [C.sol]")
}

func TestReadUnits_UnreadableUnitIsReportedNotFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Good.sol"), []byte("contract Good {}"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing"), filepath.Join(dir, "Broken.sol")))

	units, errs, err := readUnits(dir, ".sol")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "Good.sol", units[0].Name)

	require.Len(t, errs, 1)
	var ie *model.IOError
	require.True(t, errors.As(errs[0], &ie))
	assert.Equal(t, "Broken.sol", ie.Unit)
	assert.Equal(t, "read", ie.Op)
	assert.Equal(t, "Broken.sol", unitOf(errs[0]))
	assert.Equal(t, model.ClassIO, newDiagnostic("stage", unitOf(errs[0]), 0, errs[0]).Class)

	_, _, err = readUnits(filepath.Join(dir, "absent"), ".sol")
	assert.Error(t, err)
}
