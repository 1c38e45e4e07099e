package transform

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/selector"
)

const routerSrc = `pragma solidity ^0.8.20;

contract Router {
    enum Mode { A, B }

    function forward(address target, bytes calldata data, Mode m) external returns (bool) {
        (bool ok, ) = target.call(data);
        return ok;
    }

    function peek(address target) public view returns (bytes memory) {
        (, bytes memory out) = target.staticcall(abi.encodeWithSignature("x()"));
        return out;
    }

    function _internal(uint x) internal pure returns (uint) { return x; }
}
`

func TestDispatch_GuardsAndRoutes(t *testing.T) {
	env := testEnv()
	res, err := dynamicDispatch{}.Apply(context.Background(), model.Unit{Name: "Router.sol", Content: routerSrc}, env)
	require.NoError(t, err)
	out := res.Content

	assert.Equal(t, 1, strings.Count(out, "require(msg.sig =="))
	assert.Contains(t, out, "returns (bool) {\n        require(msg.sig == bytes4(keccak256(\"forward(address,bytes,uint8)\")), \"Invalid function selector\");\n        (bool ok, ) =")

	assert.Regexp(t, `\(bool ok, \) = _ccobfDispatch_Router\(bytes4\(0x[0-9a-f]{8}\), target, data\);`, out)
	assert.Regexp(t, `_ccobfDispatchStatic_Router\(bytes4\(0x[0-9a-f]{8}\), target, abi\.encodeWithSignature\("x\(\)"\)\);`, out)
	assert.NotContains(t, out, "(bool ok, ) = target.call(data)")
	assert.Equal(t, 1, strings.Count(out, "function _ccobfDispatch_Router("))
	assert.Equal(t, 1, strings.Count(out, "function _ccobfDispatchStatic_Router("))
	assert.True(t, strings.HasSuffix(out, "        return target.staticcall(data);\n    }\n}\n"), out)

	snap := env.Selectors.Snapshot()
	require.Len(t, snap, 3)
	var sigs []string
	for key, e := range snap {
		sigs = append(sigs, e.FunctionSignature)
		assert.Equal(t, "Router.sol:Router", e.ContractAddress)
		sel, err := selector.Parse(key)
		require.NoError(t, err)
		assert.NotEqual(t, selector.Canonical(e.FunctionSignature), sel)
	}
	assert.ElementsMatch(t, []string{"forward(address,bytes,uint8)", "peek(address)", "_internal(uint256)"}, sigs)
}

func TestDispatch_TagRouteIsNotRegistered(t *testing.T) {
	env := testEnv()
	res, err := dynamicDispatch{}.Apply(context.Background(), model.Unit{Name: "Router.sol", Content: routerSrc}, env)
	require.NoError(t, err)

	m := regexp.MustCompile(`_ccobfDispatch_Router\(bytes4\((0x[0-9a-f]{8})\)`).FindStringSubmatch(res.Content)
	require.NotNil(t, m)
	route, err := selector.Parse(m[1])
	require.NoError(t, err)
	assert.NotEqual(t, selector.Canonical(lowLevelTag), route)
	_, ok := env.Selectors.Lookup(route)
	assert.False(t, ok)
}

func TestDispatch_SeededRunsAreReproducible(t *testing.T) {
	a, err := dynamicDispatch{}.Apply(context.Background(), model.Unit{Name: "Router.sol", Content: routerSrc}, testEnv())
	require.NoError(t, err)
	b, err := dynamicDispatch{}.Apply(context.Background(), model.Unit{Name: "Router.sol", Content: routerSrc}, testEnv())
	require.NoError(t, err)
	assert.Equal(t, a.Content, b.Content)
}

func TestDispatch_CollisionSkipsGuard(t *testing.T) {
	env := testEnv()
	env.CollisionRetries = 1
	const sig = "forward(address,bytes,uint8)"

	// the first salt the stage draws goes to forward
	first, err := env.Salts(env.Rand("dynamic_dispatch", "Router.sol")).Salt()
	require.NoError(t, err)
	key := selector.Obfuscated(sig, first)
	_, err = env.Selectors.Register("other()", selector.Canonical("other()").Uint32()^key.Uint32(), "")
	require.NoError(t, err)

	res, err := dynamicDispatch{}.Apply(context.Background(), model.Unit{Name: "Router.sol", Content: routerSrc}, env)
	require.NoError(t, err)
	assert.NotContains(t, res.Content, "require(msg.sig")

	var classes []string
	for _, n := range res.Notes {
		classes = append(classes, n.Class)
	}
	assert.Contains(t, classes, model.ClassCollision)
	e, ok := env.Selectors.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "other()", e.FunctionSignature)
}

const vaultChainSrc = `pragma solidity ^0.8.20;

contract BaseVault {
    function sweep(address to) internal {
        (bool ok, ) = to.call("");
        require(ok);
    }
}

contract Vault is BaseVault {
    function pull(address from, bytes calldata data) external {
        (bool ok, ) = from.call(data);
        require(ok);
        sweep(from);
    }
}
`

func TestDispatch_BaseAndDerivedHelpersDoNotClash(t *testing.T) {
	res, err := dynamicDispatch{}.Apply(context.Background(), model.Unit{Name: "Vault.sol", Content: vaultChainSrc}, testEnv())
	require.NoError(t, err)
	out := res.Content

	helpers := regexp.MustCompile(`function (_ccobfDispatch\w*)\(`).FindAllStringSubmatch(out, -1)
	require.Len(t, helpers, 2)
	declared := map[string]int{}
	for _, m := range helpers {
		declared[m[1]]++
	}
	assert.Equal(t, map[string]int{"_ccobfDispatch_BaseVault": 1, "_ccobfDispatch_Vault": 1}, declared)

	base := out[:strings.Index(out, "contract Vault is")]
	assert.Regexp(t, `\(bool ok, \) = _ccobfDispatch_BaseVault\(bytes4\(0x[0-9a-f]{8}\), to, ""\);`, base)
	assert.Regexp(t, `\(bool ok, \) = _ccobfDispatch_Vault\(bytes4\(0x[0-9a-f]{8}\), from, data\);`, out[len(base):])
	assert.Contains(t, base, "function _ccobfDispatch_BaseVault(")
}

func TestResolveTypes(t *testing.T) {
	aliases := map[string]string{"IERC20": "address", "Side": "uint8"}
	assert.Equal(t, "address token, uint8[] memory sides, uint256 n", resolveTypes("IERC20 token, Side[] memory sides, uint256 n", aliases))
}
