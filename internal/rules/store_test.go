package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollno10/crossContractObfuscation/internal/model"
)

func sample() []model.Interaction {
	return []model.Interaction{
		{Caller: "Wallet.sol", Callee: "token", Function: "transfer", Kind: model.KindHighLevel, Role: model.RoleInitiator, FunctionSignature: "transfer(to, amount)", ContractAddress: model.ZeroAddress},
		{Caller: "Wallet.sol", Callee: "to", Function: "call", Kind: model.KindLowLevel, Role: model.RoleInitiator, ContractAddress: "to"},
		{Caller: "Proxy.sol", Callee: "impl", Function: "delegatecall", Kind: model.KindDelegateCall, Role: model.RoleExecutor},
		{Caller: "Proxy.sol", Kind: model.KindProxy, Role: model.RoleMiddleware, Details: "Detected keywords indicating proxy pattern"},
	}
}

func TestStore_SaveLatestLoad(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "interaction_1.json")
	require.NoError(t, os.WriteFile(old, []byte(`{"interactions": []}`), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	path, err := New(sample()).Save(dir)
	require.NoError(t, err)
	assert.Regexp(t, `interaction_\d+(_\d+)?\.json$`, path)

	latest, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, path, latest)

	s, err := Load(latest)
	require.NoError(t, err)
	assert.Equal(t, sample(), s.Interactions)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"interaction_type": "high_level"`)
	assert.Contains(t, string(b), `"interaction_role": "initiator"`)
}

func TestLatest_NoStore(t *testing.T) {
	_, err := Latest(t.TempDir())
	assert.True(t, errors.Is(err, model.ErrNoRuleStore))
	_, err = Latest(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, model.ErrNoRuleStore))
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]string{
		"root array":   `[]`,
		"missing key":  `{"records": []}`,
		"not a list":   `{"interactions": {"a": 1}}`,
		"null list":    `{"interactions": null}`,
		"invalid json": `{"interactions": [`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_NormalizesCase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"interactions":[{"caller":"A.sol","interaction_type":"High_Level","interaction_role":"Weird"}]}`), 0o644))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, model.KindHighLevel, s.PrimaryKind("A.sol"))
	assert.Equal(t, model.RoleUnknown, s.Role("A.sol"))
}

func TestStore_Queries(t *testing.T) {
	s := New(sample())

	assert.Len(t, s.ForUnit("Wallet.sol"), 2)
	assert.Empty(t, s.ForUnit("Other.sol"))

	assert.True(t, s.IsProxy("Proxy.sol"))
	assert.False(t, s.IsProxy("Wallet.sol"))

	assert.Equal(t, model.KindHighLevel, s.PrimaryKind("Wallet.sol"))
	assert.Equal(t, model.KindDelegateCall, s.PrimaryKind("Proxy.sol"))
	assert.Equal(t, model.InteractionKind(""), s.PrimaryKind("Other.sol"))

	assert.Equal(t, []model.InteractionKind{model.KindHighLevel, model.KindLowLevel}, s.Kinds("Wallet.sol"))
	assert.Equal(t, model.RoleExecutor, s.Role("Proxy.sol"))
	assert.Equal(t, model.RoleUnknown, s.Role("Other.sol"))
	assert.Equal(t, []string{"Proxy.sol", "Wallet.sol"}, s.Units())
}
