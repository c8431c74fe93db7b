package convfix

import (
	"encoding/json"
	"testing"

	"github.com/agentcore/runtime/pkg/models"
)

func assertIdempotent(t *testing.T, messages []models.Message) {
	t.Helper()
	fixed, _ := Fix(messages)
	_, issues2 := Fix(fixed)
	if len(issues2) != 0 {
		t.Fatalf("Fix is not idempotent, second pass issues: %v\n%s", issues2, DebugReport(messages, fixed, issues2))
	}
}

func TestFixEmptyConversationYieldsPlaceholder(t *testing.T) {
	fixed, issues := Fix(nil)
	if len(fixed) != 1 || fixed[0].Role != models.RoleUser || fixed[0].ConcatText() != PlaceholderUserText {
		t.Fatalf("want single placeholder user message, got %+v", fixed)
	}
	if !containsIssue(issues, "Added placeholder user message to empty conversation") {
		t.Fatalf("issues missing placeholder note: %v", issues)
	}
	assertIdempotent(t, nil)
}

func TestFixSingleAssistantMessageBecomesPlaceholder(t *testing.T) {
	messages := []models.Message{models.NewAssistantText("hi", 0)}
	fixed, issues := Fix(messages)
	if len(fixed) != 1 || fixed[0].ConcatText() != PlaceholderUserText {
		t.Fatalf("want placeholder, got %+v", fixed)
	}
	if !containsIssue(issues, "Removed trailing assistant message") {
		t.Fatalf("issues missing trailing-assistant note: %v", issues)
	}
	if !containsIssue(issues, "Added placeholder user message to empty conversation") {
		t.Fatalf("issues missing placeholder note: %v", issues)
	}
	assertIdempotent(t, messages)
}

func TestFixValidConversationUnchanged(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"q": "rust"})
	messages := []models.Message{
		models.NewUserText("search rust", 0),
		{
			Role:         models.RoleAssistant,
			CreatedEpoch: 1,
			Content: []models.ContentBlock{
				models.Text("I'll search"),
				models.ToolRequestOK("t1", "search", args),
			},
		},
		{
			Role:         models.RoleUser,
			CreatedEpoch: 2,
			Content:      []models.ContentBlock{models.ToolResponseOK("t1", []models.ContentBlock{models.Text("result")})},
		},
		models.NewAssistantText("Here are results", 3),
	}
	fixed, issues := Fix(messages)
	if len(issues) != 0 {
		t.Fatalf("want no issues for a valid conversation, got %v", issues)
	}
	if len(fixed) != len(messages) {
		t.Fatalf("want unchanged length %d, got %d", len(messages), len(fixed))
	}
}

func TestFixOrphanedToolResponseIsStrippedAndMerged(t *testing.T) {
	messages := []models.Message{
		models.NewUserText("x", 0),
		{
			Role:         models.RoleUser,
			CreatedEpoch: 1,
			Content:      []models.ContentBlock{models.ToolResponseOK("bogus", nil)},
		},
	}
	fixed, issues := Fix(messages)
	if len(fixed) != 1 || fixed[0].ConcatText() != "x" {
		t.Fatalf("want single merged user message with text 'x', got %+v", fixed)
	}
	if !containsIssue(issues, "Removed orphaned tool response 'bogus'") {
		t.Fatalf("issues missing orphan note: %v", issues)
	}
	assertIdempotent(t, messages)
}

func TestFixRoleAlternationAndMisplacedContent(t *testing.T) {
	badArgs, _ := json.Marshal(map[string]any{})
	messages := []models.Message{
		models.NewUserText("Hello", 0),
		models.NewUserText("Another user message", 1),
		{
			Role:         models.RoleAssistant,
			CreatedEpoch: 2,
			Content: []models.ContentBlock{
				models.Text("Response"),
				models.ToolResponseOK("orphan_1", nil),
			},
		},
		{
			Role:         models.RoleAssistant,
			CreatedEpoch: 3,
			Content:      []models.ContentBlock{models.Thinking("Let me think", "sig")},
		},
		{
			Role:         models.RoleUser,
			CreatedEpoch: 4,
			Content: []models.ContentBlock{
				models.ToolRequestOK("bad_req", "search", badArgs),
				models.Text("User with bad tool request"),
			},
		},
	}

	fixed, issues := Fix(messages)

	if len(fixed) != 3 {
		t.Fatalf("want 3 messages after merge, got %d: %+v", len(fixed), fixed)
	}
	if len(issues) != 4 {
		t.Fatalf("want 4 issues, got %d: %v", len(issues), issues)
	}
	if !containsIssue(issues, "Merged consecutive user messages") {
		t.Fatalf("missing merge issue: %v", issues)
	}
	if !containsIssue(issues, "Removed tool response 'orphan_1' from assistant message") {
		t.Fatalf("missing orphan response issue: %v", issues)
	}
	if !containsIssue(issues, "Removed tool request 'bad_req' from user message") {
		t.Fatalf("missing bad tool request issue: %v", issues)
	}
	if fixed[0].Role != models.RoleUser || fixed[1].Role != models.RoleAssistant || fixed[2].Role != models.RoleUser {
		t.Fatalf("want User/Assistant/User roles, got %v/%v/%v", fixed[0].Role, fixed[1].Role, fixed[2].Role)
	}
	if len(fixed[0].Content) != 2 {
		t.Fatalf("want merged first message to carry 2 content blocks, got %d", len(fixed[0].Content))
	}
	assertIdempotent(t, messages)
}

func TestFixRealWorldConsecutiveAssistantMessagesMerge(t *testing.T) {
	shellArgs1, _ := json.Marshal(map[string]string{"command": "ls -la"})
	shellArgs2, _ := json.Marshal(map[string]string{"command": "wc slack.yaml"})

	messages := []models.Message{
		models.NewUserText("run ls and then wc the smallest file", 0),
		{
			Role:         models.RoleAssistant,
			CreatedEpoch: 1,
			Content: []models.ContentBlock{
				models.Text("Let me start by listing the directory contents."),
				models.ToolRequestOK("call_1", "developer__shell", shellArgs1),
			},
		},
		{
			Role:         models.RoleAssistant,
			CreatedEpoch: 2,
			Content: []models.ContentBlock{
				models.Text("Now I'll run a word count."),
				models.ToolRequestOK("call_2", "developer__shell", shellArgs2),
			},
		},
		{
			Role:         models.RoleUser,
			CreatedEpoch: 3,
			Content:      []models.ContentBlock{models.ToolResponseOK("call_2", []models.ContentBlock{models.Text("0 0 0 slack.yaml")})},
		},
		models.NewAssistantText("Here's what I found.", 4),
		models.NewUserText("thanks!", 5),
	}

	fixed, issues := Fix(messages)

	if len(fixed) != 5 {
		t.Fatalf("want 5 messages, got %d: %+v", len(fixed), fixed)
	}
	if len(issues) != 2 {
		t.Fatalf("want 2 issues, got %d: %v", len(issues), issues)
	}
	if !containsIssue(issues, "Removed orphaned tool request 'call_1'") {
		t.Fatalf("missing orphan request issue: %v", issues)
	}
	if !containsIssue(issues, "Merged consecutive assistant messages") {
		t.Fatalf("missing merge issue: %v", issues)
	}
	assertIdempotent(t, messages)
}

func TestValidateRejectsUnpairedToolRequest(t *testing.T) {
	args, _ := json.Marshal(map[string]string{})
	messages := []models.Message{
		models.NewUserText("go", 0),
		{
			Role:         models.RoleAssistant,
			CreatedEpoch: 1,
			Content:      []models.ContentBlock{models.ToolRequestOK("t1", "search", args)},
		},
	}
	if err := Validate(messages); err == nil {
		t.Fatal("want error for unpaired tool request, got nil")
	}
}

func containsIssue(issues []string, want string) bool {
	for _, i := range issues {
		if i == want {
			return true
		}
	}
	return false
}
