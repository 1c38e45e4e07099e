package transform

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollno10/crossContractObfuscation/internal/model"
	"github.com/rollno10/crossContractObfuscation/internal/predicate"
	"github.com/rollno10/crossContractObfuscation/internal/rules"
)

const walletSrc = `pragma solidity ^0.8.20;

interface IERC20 {
    function transfer(address to, uint256 amount) external returns (bool);
}

contract Wallet {
    IERC20 Token;
    address owner;

    function pay(address to, uint256 amount) external {
        require(msg.sender == owner, "not owner");
        Token.transfer(to, amount);
    }
}
`

func testEnv(records ...model.Interaction) *Env {
	return NewEnv(rules.New(records), nil, 42)
}

func countEntries(out string, role model.Role, kind model.InteractionKind) (int, string) {
	n, last := 0, ""
	for _, e := range predicate.Entries(role, kind) {
		if c := strings.Count(out, e); c > 0 {
			n += c
			last = e
		}
	}
	return n, last
}

func TestOpaque_HighLevelAtFunctionEntry(t *testing.T) {
	env := testEnv(model.Interaction{Caller: "Wallet.sol", Callee: "Token", Function: "transfer", Kind: model.KindHighLevel, Role: model.RoleInitiator})
	res, err := opaquePredicates{}.Apply(context.Background(), model.Unit{Name: "Wallet.sol", Content: walletSrc}, env)
	require.NoError(t, err)

	n, pred := countEntries(res.Content, model.RoleInitiator, model.KindHighLevel)
	require.Equal(t, 1, n)
	assert.Contains(t, res.Content, "external {\n        "+pred+"\n        require(msg.sender == owner")
	assert.Equal(t, walletSrc, strings.Replace(res.Content, "\n        "+pred, "", 1))
}

func TestOpaque_NoRulesIsByteIdentical(t *testing.T) {
	env := testEnv(model.Interaction{Caller: "Other.sol", Kind: model.KindHighLevel, Role: model.RoleInitiator})
	res, err := opaquePredicates{}.Apply(context.Background(), model.Unit{Name: "Wallet.sol", Content: walletSrc}, env)
	require.NoError(t, err)
	assert.Equal(t, walletSrc, res.Content)
	assert.Empty(t, res.Notes)
}

func TestOpaque_OnePerKindPerFunction(t *testing.T) {
	src := `pragma solidity ^0.8.20;

contract Relay {
    function run(address a, address b, IThing t) external {
        t.ping();
        t.pong();
        (bool ok, ) = a.call("");
        (ok, ) = b.call("");
        IThing(a).ping();
    }

    function quiet(address a) external {
        (bool ok, ) = a.call("");
    }

    function pureMath(uint256 x) external pure returns (uint256) {
        return x.add(1);
    }
}
`
	env := testEnv(
		model.Interaction{Caller: "Relay.sol", Kind: model.KindHighLevel, Role: model.RoleExecutor},
		model.Interaction{Caller: "Relay.sol", Kind: model.KindHighLevel, Role: model.RoleExecutor},
		model.Interaction{Caller: "Relay.sol", Kind: model.KindLowLevel, Role: model.RoleExecutor},
		model.Interaction{Caller: "Relay.sol", Kind: model.KindInterfaceCall, Role: model.RoleExecutor},
	)
	res, err := opaquePredicates{}.Apply(context.Background(), model.Unit{Name: "Relay.sol", Content: src}, env)
	require.NoError(t, err)

	hl, _ := countEntries(res.Content, model.RoleExecutor, model.KindHighLevel)
	ll, llPred := countEntries(res.Content, model.RoleExecutor, model.KindLowLevel)
	ic, icPred := countEntries(res.Content, model.RoleExecutor, model.KindInterfaceCall)
	// run and quiet get a high-level guard each only where a high-level call occurs
	assert.Equal(t, 1, hl)
	assert.Equal(t, 2, ll)
	assert.Equal(t, 1, ic)
	assert.Contains(t, res.Content, "        "+llPred+"\n        (bool ok, ) = a.call(\"\");")
	assert.Contains(t, res.Content, "        "+icPred+"\n        IThing(a).ping();")
	assert.Contains(t, res.Content, "external pure returns (uint256) {\n        return x.add(1);")
}

func TestOpaque_UnknownRoleSkipsInsertion(t *testing.T) {
	env := testEnv(model.Interaction{Caller: "Wallet.sol", Kind: model.KindHighLevel, Role: model.RoleUnknown})
	res, err := opaquePredicates{}.Apply(context.Background(), model.Unit{Name: "Wallet.sol", Content: walletSrc}, env)
	require.NoError(t, err)
	assert.Equal(t, walletSrc, res.Content)
	require.Len(t, res.Notes, 1)
	assert.Equal(t, model.ClassUnsupported, res.Notes[0].Class)
	assert.Equal(t, 13, res.Notes[0].Line)
}

func TestOpaque_IgnoresCommentedCalls(t *testing.T) {
	src := `pragma solidity ^0.8.20;
contract C {
    function f() external {
        // a.call("")
        uint256 x = 1;
        x += 1;
    }
}
`
	env := testEnv(model.Interaction{Caller: "C.sol", Kind: model.KindLowLevel, Role: model.RoleMiddleware})
	res, err := opaquePredicates{}.Apply(context.Background(), model.Unit{Name: "C.sol", Content: src}, env)
	require.NoError(t, err)
	assert.Equal(t, src, res.Content)
}

func TestOpaque_UnbracedLoopBodyAnchorsAtKeyword(t *testing.T) {
	src := `pragma solidity ^0.8.20;

contract Batch {
    function fan(address target, bytes calldata d, uint256 n) external {
        for (uint256 j = 0; j < n; j++) target.call(d);
    }

    function maybe(address target, bytes calldata d, uint256 n) external {
        uint256 k = n; if (k > 0) target.call(d);
    }
}
`
	env := testEnv(model.Interaction{Caller: "Batch.sol", Kind: model.KindLowLevel, Role: model.RoleExecutor})
	res, err := opaquePredicates{}.Apply(context.Background(), model.Unit{Name: "Batch.sol", Content: src}, env)
	require.NoError(t, err)

	n, _ := countEntries(res.Content, model.RoleExecutor, model.KindLowLevel)
	require.Equal(t, 2, n)
	placed := func(format string) bool {
		for _, e := range predicate.Entries(model.RoleExecutor, model.KindLowLevel) {
			if strings.Contains(res.Content, strings.ReplaceAll(format, "PRED", e)) {
				return true
			}
		}
		return false
	}
	assert.True(t, placed("        PRED\n        for (uint256 j = 0; j < n; j++) target.call(d);"), res.Content)
	assert.True(t, placed("uint256 k = n; PRED if (k > 0) target.call(d);"), res.Content)
	assert.Contains(t, res.Content, "for (uint256 j = 0; j < n; j++) target.call(d);")
}
