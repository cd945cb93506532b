package rollcall

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseCommandCandidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		text          string
		wantMatched   bool
		wantErrSubstr string
		wantName      string
		wantMention   string
		wantTokens    []string
	}{
		{
			name:        "command with bot mention and arguments",
			text:        " /Group-Create@RollcallBot eng <@U1> <@U2> ",
			wantMatched: true,
			wantName:    "group-create",
			wantMention: "RollcallBot",
			wantTokens:  []string{"eng", "<@U1>", "<@U2>"},
		},
		{
			name:        "bare command",
			text:        "/group-list",
			wantMatched: true,
			wantName:    "group-list",
		},
		{
			name:        "plain mention text",
			text:        "hey @eng",
			wantMatched: false,
		},
		{
			name:        "empty text",
			text:        "   ",
			wantMatched: false,
		},
		{
			name:          "missing command name",
			text:          "/ eng",
			wantMatched:   true,
			wantErrSubstr: "missing command name",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			candidate, matched, err := ParseCommandCandidate(testCase.text)
			if matched != testCase.wantMatched {
				t.Fatalf("matched = %v, want %v", matched, testCase.wantMatched)
			}
			if testCase.wantErrSubstr != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstr) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !matched {
				return
			}
			if candidate.Prefix != CommandPrefixOrdinary {
				t.Fatalf("prefix = %q, want %q", candidate.Prefix, CommandPrefixOrdinary)
			}
			if candidate.Name != testCase.wantName {
				t.Fatalf("name = %q, want %q", candidate.Name, testCase.wantName)
			}
			if candidate.Mention != testCase.wantMention {
				t.Fatalf("mention = %q, want %q", candidate.Mention, testCase.wantMention)
			}
			if diff := cmp.Diff(testCase.wantTokens, candidate.Tokens); diff != "" {
				t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBindCommand(t *testing.T) {
	t.Parallel()

	source := &Event{
		ID:         "slack:T1:C1:1712.0001",
		Kind:       EventKindArticleCreated,
		OccurredAt: time.Unix(1, 0).UTC(),
	}
	spec := CommandSpec{Prefix: CommandPrefixOrdinary, Name: "group-create", Usage: "groupname @user1 @user2 ..."}

	tests := []struct {
		name          string
		text          string
		event         *Event
		wantErrSubstr string
		want          CommandInvocation
	}{
		{
			name:  "arguments are preserved in order",
			text:  "/group-create eng <@U1> <@U1>",
			event: source,
			want: CommandInvocation{
				Name:            "group-create",
				Value:           "eng <@U1> <@U1>",
				Args:            []string{"eng", "<@U1>", "<@U1>"},
				SourceEventID:   source.ID,
				SourceEventKind: EventKindArticleCreated,
				RawInput:        "/group-create eng <@U1> <@U1>",
			},
		},
		{
			name:  "no arguments",
			text:  "/GROUP-CREATE",
			event: source,
			want: CommandInvocation{
				Name:            "group-create",
				SourceEventID:   source.ID,
				SourceEventKind: EventKindArticleCreated,
				RawInput:        "/GROUP-CREATE",
			},
		},
		{
			name:          "name mismatch",
			text:          "/group-show eng",
			event:         source,
			wantErrSubstr: "name mismatch",
		},
		{
			name:          "nil source event",
			text:          "/group-create eng",
			wantErrSubstr: "nil source event",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			candidate, matched, err := ParseCommandCandidate(testCase.text)
			if !matched || err != nil {
				t.Fatalf("ParseCommandCandidate(%q) = matched %v err %v", testCase.text, matched, err)
			}

			got, err := BindCommand(candidate, spec, testCase.event)
			if testCase.wantErrSubstr != "" {
				if err == nil || !strings.Contains(err.Error(), testCase.wantErrSubstr) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("BindCommand failed: %v", err)
			}
			if diff := cmp.Diff(testCase.want, got); diff != "" {
				t.Fatalf("invocation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCommandSpecValidateAndSynopsis(t *testing.T) {
	t.Parallel()

	if err := (CommandSpec{Prefix: "~", Name: "x"}).Validate(); err == nil {
		t.Fatal("expected unsupported prefix error")
	}
	if err := (CommandSpec{Prefix: CommandPrefixOrdinary}).Validate(); err == nil {
		t.Fatal("expected missing name error")
	}
	if err := (CommandSpec{Prefix: CommandPrefixOrdinary, Name: "a@b"}).Validate(); err == nil {
		t.Fatal("expected invalid name error")
	}

	spec := CommandSpec{Prefix: CommandPrefixOrdinary, Name: "Group-Show", Usage: "groupname"}
	if got := spec.Synopsis(); got != "/group-show groupname" {
		t.Fatalf("synopsis = %q, want %q", got, "/group-show groupname")
	}
	if got := (CommandSpec{Prefix: CommandPrefixOrdinary, Name: "group-list"}).Synopsis(); got != "/group-list" {
		t.Fatalf("synopsis = %q, want /group-list", got)
	}
}
