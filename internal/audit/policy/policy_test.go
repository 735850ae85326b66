package policy

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	derrors "chronicle/pkg/domain-errors"
)

type PolicySuite struct {
	suite.Suite
	policy *Policy
}

func TestPolicySuite(t *testing.T) {
	suite.Run(t, new(PolicySuite))
}

func (s *PolicySuite) SetupTest() {
	s.policy = Default()
}

func (s *PolicySuite) TestClassifyDropsForbiddenKeys() {
	out := s.policy.Classify(map[string]any{
		"progress":      75,
		"internal_cost": 0.04,
		"provider_name": "VendorX",
		"quality":       "high",
	})

	s.Equal(map[string]any{"progress": 75, "quality": "high"}, out)
}

func (s *PolicySuite) TestClassifyIsCaseInsensitive() {
	out := s.policy.Classify(map[string]any{
		"Provider_Name":  "VendorX",
		"API_KEY":        "sk-xxxx",
		"Margin_Percent": 150.0,
		"note":           "fine",
	})

	s.Equal(map[string]any{"note": "fine"}, out)
}

func (s *PolicySuite) TestClassifyWalksNestedContainers() {
	out := s.policy.Classify(map[string]any{
		"step": "review",
		"details": map[string]any{
			"internal_cost": 0.1,
			"attempts":      3,
			"runs": []any{
				map[string]any{"model_name": "m-1", "duration": 12},
				"plain string",
				7,
			},
		},
	})

	details := out["details"].(map[string]any)
	s.Equal(3, details["attempts"])
	s.NotContains(details, "internal_cost")

	runs := details["runs"].([]any)
	s.Len(runs, 3)
	s.Equal(map[string]any{"duration": 12}, runs[0])
	s.Equal("plain string", runs[1])
	s.Equal(7, runs[2])
}

func (s *PolicySuite) TestClassifyTotalFunction() {
	s.Nil(s.policy.Classify(nil))
	s.Equal(map[string]any{}, s.policy.Classify(map[string]any{}))
}

// TestClassifyGeneratedPayloads fuzzes nesting depths 1-3 with forbidden keys
// planted at every level and verifies none survive.
func (s *PolicySuite) TestClassifyGeneratedPayloads() {
	rng := rand.New(rand.NewSource(42))
	forbidden := []string{"internal_cost", "margin_percent", "provider_name", "secret", "model_name"}

	var build func(depth int) map[string]any
	build = func(depth int) map[string]any {
		m := map[string]any{
			"safe_" + fmt.Sprint(rng.Intn(1000)): rng.Intn(100),
			forbidden[rng.Intn(len(forbidden))]:  "leak",
		}
		if depth > 1 {
			m["nested"] = build(depth - 1)
			m["items"] = []any{build(depth - 1), "leaf"}
		}
		return m
	}

	var assertClean func(m map[string]any)
	assertClean = func(m map[string]any) {
		for k, v := range m {
			for _, f := range forbidden {
				s.NotEqual(f, strings.ToLower(k))
			}
			switch val := v.(type) {
			case map[string]any:
				assertClean(val)
			case []any:
				for _, item := range val {
					if nested, ok := item.(map[string]any); ok {
						assertClean(nested)
					}
				}
			}
		}
	}

	for depth := 1; depth <= 3; depth++ {
		for i := 0; i < 50; i++ {
			assertClean(s.policy.Classify(build(depth)))
		}
	}
}

func (s *PolicySuite) TestValidateMessageAcceptsSafeText() {
	s.NoError(s.policy.ValidateMessage("Plug #42 approved"))
	s.NoError(s.policy.ValidateMessage("Build complete, quality 96.8%"))
	s.NoError(s.policy.ValidateMessage(""))
}

func (s *PolicySuite) TestValidateMessageRejectsEveryDefaultPattern() {
	for _, pattern := range defaultForbiddenPatterns {
		err := s.policy.ValidateMessage("status update: " + pattern + " end")
		s.Require().Error(err, "pattern %q should be rejected", pattern)
		s.True(derrors.HasCode(err, derrors.CodeContentPolicy))
		s.Contains(err.Error(), pattern)
	}
}

func (s *PolicySuite) TestValidateMessageIsCaseInsensitive() {
	err := s.policy.ValidateMessage("Internal Cost is $0.04 per call")
	s.Require().Error(err)
	s.True(derrors.HasCode(err, derrors.CodeContentPolicy))
}

func (s *PolicySuite) TestExtendAddsToTables() {
	extended := s.policy.Extend([]string{"unit_economics"}, []string{"vendory"})

	s.NotContains(extended.Classify(map[string]any{"unit_economics": 1, "ok": 2}), "unit_economics")
	s.Error(extended.ValidateMessage("handled by VendorY today"))

	// Base policy is unchanged.
	s.NoError(s.policy.ValidateMessage("handled by VendorY today"))
	s.Contains(s.policy.Classify(map[string]any{"unit_economics": 1}), "unit_economics")
}
