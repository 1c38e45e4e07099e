package predicate

import (
	"errors"
	mrand "math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollno10/crossContractObfuscation/internal/model"
)

func TestPick_CatalogCells(t *testing.T) {
	s := New(mrand.New(mrand.NewPCG(1, 2)))
	roles := []model.Role{model.RoleInitiator, model.RoleMiddleware, model.RoleExecutor}
	kinds := []model.InteractionKind{model.KindHighLevel, model.KindLowLevel, model.KindInterfaceCall, model.KindDelegateCall}
	for _, r := range roles {
		for _, k := range kinds {
			got, err := s.Pick(r, k)
			require.NoError(t, err, "%s/%s", r, k)
			assert.Contains(t, Entries(r, k), got)
		}
	}
}

func TestPick_Unsupported(t *testing.T) {
	s := New(nil)
	for _, c := range []struct {
		role model.Role
		kind model.InteractionKind
	}{
		{model.RoleUnknown, model.KindHighLevel},
		{model.RoleInitiator, model.KindFactoryDeployment},
		{model.RoleMiddleware, model.KindProxy},
	} {
		_, err := s.Pick(c.role, c.kind)
		var ue *model.UnsupportedCombinationError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, c.role, ue.Role)
		assert.Equal(t, c.kind, ue.Kind)
	}
}

func TestPick_SeededIsDeterministic(t *testing.T) {
	a := New(mrand.New(mrand.NewPCG(9, 9)))
	b := New(mrand.New(mrand.NewPCG(9, 9)))
	for i := 0; i < 20; i++ {
		x, _ := a.Pick(model.RoleExecutor, model.KindLowLevel)
		y, _ := b.Pick(model.RoleExecutor, model.KindLowLevel)
		assert.Equal(t, x, y)
	}
}

// Guards must stay inert: no writes, no reverts, no subtraction that could underflow.
func TestCatalog_Shape(t *testing.T) {
	for role, cells := range catalog {
		for kind, entries := range cells {
			assert.Len(t, entries, 2, "%s/%s", role, kind)
			for _, e := range entries {
				assert.True(t, strings.HasPrefix(e, "if (") || strings.HasPrefix(e, "{ "), e)
				assert.Equal(t, strings.Count(e, "{"), strings.Count(e, "}"), e)
				assert.Equal(t, strings.Count(e, "("), strings.Count(e, ")"), e)
				for _, banned := range []string{"require(", "revert", "assert(", " - ", "difficulty", "selfdestruct"} {
					assert.NotContains(t, e, banned)
				}
			}
		}
	}
	assert.True(t, Supports(model.KindInterfaceCall))
	assert.False(t, Supports(model.KindFactoryDeployment))
}
