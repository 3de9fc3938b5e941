package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBatch_Validate(t *testing.T) {
	tests := []struct {
		name    string
		b       Batch
		wantErr bool
	}{
		{"ok", Batch{Columns: []string{"id", "v"}, Rows: []Record{{"a", 1}}}, false},
		{"empty rows ok", Batch{Columns: []string{"id"}}, false},
		{"no columns", Batch{}, true},
		{"empty column name", Batch{Columns: []string{"id", ""}}, true},
		{"duplicate column", Batch{Columns: []string{"id", "id"}}, true},
		{"short row", Batch{Columns: []string{"id", "v"}, Rows: []Record{{"a"}}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.b.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestBatch_ColumnAndIndex(t *testing.T) {
	b := Batch{
		Columns: []string{"id", "likes"},
		Rows:    []Record{{"a", 1}, {"b", 2}},
	}
	if got := b.Index("likes"); got != 1 {
		t.Errorf("Index(likes) = %d, want 1", got)
	}
	if got := b.Index("missing"); got != -1 {
		t.Errorf("Index(missing) = %d, want -1", got)
	}
	col := b.Column("id")
	if len(col) != 2 || col[0] != "a" || col[1] != "b" {
		t.Errorf("Column(id) = %v", col)
	}
	if b.Column("missing") != nil {
		t.Error("Column(missing) should be nil")
	}
}

func TestBatch_SelectAndWithColumn(t *testing.T) {
	b := Batch{
		Columns: []string{"id"},
		Rows:    []Record{{"a"}, {"b"}, {"c"}},
	}
	sel := b.Select([]int{2, 0})
	if sel.Len() != 2 || sel.Rows[0][0] != "c" || sel.Rows[1][0] != "a" {
		t.Errorf("Select = %v", sel.Rows)
	}

	wc := b.WithColumn("flag", []any{true, false, true})
	if len(wc.Columns) != 2 || wc.Columns[1] != "flag" {
		t.Fatalf("WithColumn columns = %v", wc.Columns)
	}
	if wc.Rows[2][1] != true {
		t.Errorf("WithColumn row 2 = %v", wc.Rows[2])
	}
	if len(b.Rows[0]) != 1 {
		t.Error("WithColumn must not modify the original rows")
	}
}

func TestKeyString(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	tests := []struct {
		in     any
		want   string
		wantOK bool
	}{
		{nil, "", false},
		{"abc", "abc", true},
		{[]byte("abc"), "abc", true},
		{3, "3", true},
		{int64(3), "3", true},
		{3.0, "3", true},
		{2.5, "2.5", true},
		{json.Number("7"), "7", true},
		{true, "true", true},
		{ts, "2026-01-02T02:04:05Z", true},
	}
	for _, tc := range tests {
		got, ok := KeyString(tc.in)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("KeyString(%#v) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestFloat(t *testing.T) {
	if f, ok := Float("2.5"); !ok || f != 2.5 {
		t.Errorf("Float(\"2.5\") = %v, %v", f, ok)
	}
	if f, ok := Float(int64(4)); !ok || f != 4 {
		t.Errorf("Float(int64) = %v, %v", f, ok)
	}
	if _, ok := Float("n/a"); ok {
		t.Error("Float(\"n/a\") should fail")
	}
	if _, ok := Float(nil); ok {
		t.Error("Float(nil) should fail")
	}
}
