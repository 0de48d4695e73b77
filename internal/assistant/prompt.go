package assistant

import "fmt"

// contextPreamble is prepended to fix prompts under conditions that
// provide generated context files, steering the assistant to read
// them before editing.
const contextPreamble = `Before making changes, read the AGENTS.md files (starting with CLAUDE.md at the root) to understand:
- Where relevant code is located
- What pitfalls to avoid
- What contracts must be maintained

`

// FixPromptFromCommitMessage builds a fix prompt from the message of
// the historical fix commit.
func FixPromptFromCommitMessage(message string, withPreamble bool) string {
	p := ""
	if withPreamble {
		p = contextPreamble
	}
	return fmt.Sprintf(`%sFix the following bug:

%s

The fix should make the existing tests pass.`, p, message)
}

// FixPromptFromFailingTest builds a fix prompt from failing test
// output captured during pre-validation.
func FixPromptFromFailingTest(testOutput string, withPreamble bool) string {
	p := ""
	if withPreamble {
		p = contextPreamble
	}
	return fmt.Sprintf("%sThe following test is failing:\n\n```\n%s\n```\n\nFind and fix the bug that causes this test to fail. Do not modify the test itself.", p, testOutput)
}

// FixPromptFromIssue builds a fix prompt from a tracker issue.
func FixPromptFromIssue(title, body string, withPreamble bool) string {
	p := ""
	if withPreamble {
		p = contextPreamble
	}
	return fmt.Sprintf(`%sFix the following bug:

**%s**

%s

The fix should make the existing tests pass.`, p, title, body)
}

// FlatContextPrompt asks the assistant to write a single repository
// overview into CLAUDE.md.
const FlatContextPrompt = `Analyze this repository and write a CLAUDE.md file at the repository root that briefly describes:
- The purpose of the project and its main components
- The layout of the source tree and where key functionality lives
- Build, test, and lint commands
- Code conventions a contributor must follow

Keep it under 200 lines. Write only CLAUDE.md; do not modify any other file.`

// StructuredLayerPrompt asks the assistant to build a hierarchical
// context layer: a root CLAUDE.md plus per-directory AGENTS.md files
// in the significant subtrees.
const StructuredLayerPrompt = `Analyze this repository and build a layered set of context files:
1. A root CLAUDE.md summarizing the project, its architecture, and how the per-directory AGENTS.md files below are organized.
2. An AGENTS.md in each significant source directory describing what lives there, the contracts and invariants its code maintains, and pitfalls when changing it.

Only create CLAUDE.md and AGENTS.md files; do not modify any other file.`
