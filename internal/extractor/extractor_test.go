package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollno10/crossContractObfuscation/internal/model"
)

const payer = `pragma solidity ^0.8.20;

contract Payer {
    address owner;

    function pay(IToken token, address to, uint256 amount) external {
        require(msg.sender == owner, "not owner");
        token.transfer(to, amount);
        (bool ok, ) = to.call{value: 1}("");
        (ok, ) = to.staticcall(abi.encodeWithSignature("balanceOf(address)", to));
        Child c = new Child(owner, 100);
        bytes memory buf = new bytes(32);
    }
}
`

func TestExtractUnit_Records(t *testing.T) {
	recs, err := ExtractUnit(model.Unit{Name: "Payer.sol", Content: payer})
	require.NoError(t, err)

	var kinds []model.InteractionKind
	for _, r := range recs {
		kinds = append(kinds, r.Kind)
		assert.Equal(t, "Payer.sol", r.Caller)
		assert.Equal(t, model.RoleInitiator, r.Role)
	}
	// abi.encodeWithSignature is a high-level match too
	assert.Equal(t, []model.InteractionKind{
		model.KindHighLevel, model.KindHighLevel,
		model.KindLowLevel, model.KindLowLevel,
		model.KindFactoryDeployment,
	}, kinds)

	hl := recs[0]
	assert.Equal(t, "token", hl.Callee)
	assert.Equal(t, "transfer", hl.Function)
	assert.Equal(t, "transfer(to, amount)", hl.FunctionSignature)
	assert.Equal(t, model.ZeroAddress, hl.ContractAddress)
	assert.Equal(t, 8, hl.Line)

	ll := recs[3]
	assert.Equal(t, "staticcall", ll.Function)
	assert.Equal(t, "to", ll.ContractAddress)
	assert.Equal(t, `staticcall(abi.encodeWithSignature("balanceOf(address)", to))`, ll.FunctionSignature)

	assert.Equal(t, "Child", recs[4].Callee)
}

func TestExtractUnit_SkipWithoutPragma(t *testing.T) {
	_, err := ExtractUnit(model.Unit{Name: "A.sol", Content: "// pragma solidity ^0.8.0;\ncontract A {}"})
	assert.True(t, errors.Is(err, model.ErrExtractionSkip))
}

func TestExtractUnit_EmptyIsNotError(t *testing.T) {
	recs, err := ExtractUnit(model.Unit{Name: "A.sol", Content: "pragma solidity ^0.8.0;\ncontract A { uint256 x; }"})
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestExtractUnit_ProxyRecord(t *testing.T) {
	src := `pragma solidity ^0.8.0;
contract Router {
    address public implementation;
    fallback() external payable {
        (bool ok, ) = implementation.delegatecall(msg.data);
        assert(ok);
    }
}`
	recs, err := ExtractUnit(model.Unit{Name: "Router.sol", Content: src})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.KindDelegateCall, recs[0].Kind)
	assert.Equal(t, "implementation", recs[0].Callee)
	assert.Equal(t, "delegatecall(msg.data)", recs[0].FunctionSignature)
	assert.Equal(t, model.RoleMiddleware, recs[0].Role)

	assert.Equal(t, model.KindProxy, recs[1].Kind)
	assert.Equal(t, model.RoleMiddleware, recs[1].Role)
	assert.Empty(t, recs[1].Callee)
}

func TestClassifyRole(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want model.Role
	}{
		{"initiator wins over proxy keywords", "require(msg.sender == a); upgradeTo(x);", model.RoleInitiator},
		{"keywords are case insensitive", "function IMPLEMENTATION() {}", model.RoleMiddleware},
		{"msg.sender alone is not enough", "owner = msg.sender;", model.RoleUnknown},
		{"plain", "uint256 x = 1;", model.RoleUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ClassifyRole(c.src))
		})
	}
}

func TestExtractBatch(t *testing.T) {
	units := []model.Unit{
		{Name: "B.sol", Content: "pragma solidity ^0.8.0; contract B { function f(A a) external { a.g(); } }"},
		{Name: "A.sol", Content: "contract A {}"},
		{Name: "C.sol", Content: "pragma solidity ^0.8.0; contract C {}"},
	}
	results := ExtractBatch(context.Background(), units, 2)
	require.Len(t, results, 3)
	assert.Equal(t, "A.sol", results[0].Unit)
	assert.True(t, errors.Is(results[0].Err, model.ErrExtractionSkip))
	assert.NoError(t, results[1].Err)

	recs := Flatten(results)
	require.Len(t, recs, 1)
	assert.Equal(t, "B.sol", recs[0].Caller)
	assert.Equal(t, model.RoleUnknown, recs[0].Role)
}
