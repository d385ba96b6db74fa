package retrace

import "testing"

func TestClassify_ExplicitListsWinOverPatterns(t *testing.T) {
	c := Classifier{
		WriteTools: []string{"fetch_and_apply"},
		ReadTools:  []string{"update_preview"},
	}

	if got := c.Classify("fetch_and_apply"); got != EventWrite {
		t.Fatalf("explicit write tool classified as %q", got)
	}
	// "update_preview" contains the "update" pattern but is listed as a read.
	if got := c.Classify("update_preview"); got != EventRead {
		t.Fatalf("explicit read tool classified as %q", got)
	}
}

func TestClassify_WriteListBeforeReadList(t *testing.T) {
	c := Classifier{
		WriteTools: []string{"ambiguous_tool"},
		ReadTools:  []string{"ambiguous_tool"},
	}
	if got := c.Classify("ambiguous_tool"); got != EventWrite {
		t.Fatalf("write list should be consulted first, got %q", got)
	}
}

func TestClassify_Patterns(t *testing.T) {
	var c Classifier

	tests := []struct {
		tool string
		want EventKind
	}{
		{"create_invoice", EventWrite},
		{"UpdateAccount", EventWrite},
		{"delete_user", EventWrite},
		{"send_email", EventWrite},
		{"post_comment", EventWrite},
		{"put_object", EventWrite},
		{"patch_record", EventWrite},
		{"write_file", EventWrite},
		{"set_flag", EventWrite},
		{"add_member", EventWrite},
		{"remove_tag", EventWrite},
		{"get_balance", EventRead},
		{"search_docs", EventRead},
		{"fetch_profile", EventRead},
		{"list_accounts", EventRead},
		// "settings" contains "set": pattern matching is substring-based
		// on purpose, and the escape hatch is ReadTools.
		{"get_settings", EventWrite},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.tool); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.tool, got, tt.want)
		}
	}
}

func TestClassify_UnknownDefaultsToRead(t *testing.T) {
	var c Classifier
	if got := c.Classify("mysterious_operation"); got != EventRead {
		t.Fatalf("unknown tool should default to read, got %q", got)
	}
	if c.IsWrite("mysterious_operation") {
		t.Fatal("IsWrite should be false for an unknown tool")
	}
}
