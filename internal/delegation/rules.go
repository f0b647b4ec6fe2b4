package delegation

import (
	"strings"
	"unicode/utf8"

	"github.com/ShayCichocki/hive/pkg/models"
)

// snippetLength bounds the quoted line appended to heuristic descriptions.
const snippetLength = 160

// Rule synthesizes at most one follow-up request from a task's output.
// Rules must be deterministic.
type Rule interface {
	Name() string
	Apply(output string) (Request, bool)
}

// RuleSet maps the category of a finished task to the rules that inspect
// its output, in evaluation order.
type RuleSet map[models.Category][]Rule

// Add appends a rule for category.
func (rs RuleSet) Add(category models.Category, r Rule) {
	rs[category] = append(rs[category], r)
}

// KeywordRule fires when any keyword appears as whole words in the output,
// ignoring case. The generated description quotes the first matching line.
type KeywordRule struct {
	RuleName    string
	Keywords    []string
	Target      models.Category
	Kind        Kind
	Priority    models.Priority
	Description string
}

// Name returns the rule name.
func (r KeywordRule) Name() string {
	return r.RuleName
}

// Apply implements Rule.
func (r KeywordRule) Apply(output string) (Request, bool) {
	line, ok := firstMatchingLine(output, r.Keywords)
	if !ok {
		return Request{}, false
	}
	desc := r.Description
	if line != "" {
		desc += ": " + truncate(line, snippetLength)
	}
	return Request{
		Target:      r.Target,
		Description: desc,
		Priority:    r.Priority,
		Kind:        r.Kind,
	}, true
}

// DefaultRules returns the built-in follow-up rules.
func DefaultRules() RuleSet {
	return RuleSet{
		models.CategoryCoder: {
			KeywordRule{
				RuleName: "coder-auth-security-review",
				Keywords: []string{"authentication", "auth", "authorization", "password", "passwords",
					"token", "tokens", "credential", "credentials", "session", "sessions", "encrypt",
					"encryption", "oauth", "jwt"},
				Target:      models.CategorySecurity,
				Kind:        KindReview,
				Priority:    models.PriorityHigh,
				Description: "Review the security of the authentication and credential handling changes",
			},
			KeywordRule{
				RuleName: "coder-created-files-tests",
				Keywords: []string{"created file", "created files", "created the file", "new file", "new files",
					"added file", "added files", "files created", "wrote file", "wrote files"},
				Target:      models.CategoryTester,
				Kind:        KindDelegate,
				Priority:    models.PriorityMedium,
				Description: "Write tests for the newly created source files",
			},
		},
		models.CategoryTester: {
			KeywordRule{
				RuleName: "tester-failures-fix",
				Keywords: []string{"failing test", "failing tests", "test failed", "tests failed",
					"failed test", "failed tests", "tests failing", "tests are failing",
					"test failure", "test failures"},
				Target:      models.CategoryCoder,
				Kind:        KindIterate,
				Priority:    models.PriorityHigh,
				Description: "Fix the code so the failing tests pass",
			},
		},
		models.CategorySecurity: {
			KeywordRule{
				RuleName: "security-vulnerability-fix",
				Keywords: []string{"vulnerability", "vulnerabilities", "vulnerable", "injection", "xss",
					"csrf", "insecure"},
				Target:      models.CategoryCoder,
				Kind:        KindIterate,
				Priority:    models.PriorityHigh,
				Description: "Fix the reported security vulnerability",
			},
		},
		models.CategoryArchitect: {
			KeywordRule{
				RuleName:    "architect-plan-implementation",
				Keywords:    []string{"plan", "design", "architecture"},
				Target:      models.CategoryCoder,
				Kind:        KindDelegate,
				Priority:    models.PriorityMedium,
				Description: "Implement the architect's design",
			},
		},
		models.CategoryReviewer: {
			KeywordRule{
				RuleName:    "reviewer-changes-requested",
				Keywords:    []string{"changes requested", "request changes", "needs changes", "must fix", "should be fixed"},
				Target:      models.CategoryCoder,
				Kind:        KindIterate,
				Priority:    models.PriorityMedium,
				Description: "Address the review feedback",
			},
		},
	}
}

// firstMatchingLine returns the first non-empty line of output containing
// any keyword as whole words, trimmed.
func firstMatchingLine(output string, keywords []string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range keywords {
			if containsWords(lower, strings.ToLower(kw)) {
				return strings.TrimSpace(line), true
			}
		}
	}
	return "", false
}

// containsWords reports whether phrase occurs in s bounded by non-word
// runes or the ends of s.
func containsWords(s, phrase string) bool {
	if phrase == "" {
		return false
	}
	for from := 0; from <= len(s)-len(phrase); {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(phrase)

		before, _ := utf8.DecodeLastRuneInString(s[:i])
		after, _ := utf8.DecodeRuneInString(s[end:])
		startOK := i == 0 || !isWordRune(before)
		endOK := end == len(s) || !isWordRune(after)
		if startOK && endOK {
			return true
		}
		from = i + 1
	}
	return false
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
