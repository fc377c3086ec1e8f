package policy

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStringListAcceptsScalarAndList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"scalar", `"arn:aws:s3:::bucket"`, []string{"arn:aws:s3:::bucket"}},
		{"list", `["a","b"]`, []string{"a", "b"}},
		{"empty list", `[]`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l StringList
			if err := json.Unmarshal([]byte(tt.raw), &l); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(l) != len(tt.want) {
				t.Fatalf("got %v, want %v", l, tt.want)
			}
			for i := range tt.want {
				if l[i] != tt.want[i] {
					t.Errorf("element %d: got %q, want %q", i, l[i], tt.want[i])
				}
			}
		})
	}
}

func TestStringListRejectsNonString(t *testing.T) {
	var l StringList
	if err := json.Unmarshal([]byte(`42`), &l); err == nil {
		t.Fatal("expected error for numeric value")
	}
}

func TestParseScalarResourceEquivalentToList(t *testing.T) {
	scalar := `{"Version":"2012-10-17","Statement":[{"Sid":"S","Effect":"Allow","Action":"s3:GetObject","Resource":"arn:aws:s3:::b/*"}]}`
	list := `{"Version":"2012-10-17","Statement":[{"Sid":"S","Effect":"Allow","Action":["s3:GetObject"],"Resource":["arn:aws:s3:::b/*"]}]}`

	docScalar, err := Parse(scalar)
	if err != nil {
		t.Fatalf("parse scalar form: %v", err)
	}
	docList, err := Parse(list)
	if err != nil {
		t.Fatalf("parse list form: %v", err)
	}
	if docScalar.Statement[0].Resource[0] != docList.Statement[0].Resource[0] {
		t.Error("scalar and list Resource forms should decode identically")
	}
}

func TestFindStatementBySid(t *testing.T) {
	doc := &Document{
		Version: DefaultVersion,
		Statement: []Statement{
			{Sid: "First", Effect: "Allow"},
			{Sid: "Second", Effect: "Allow"},
		},
	}
	if i := doc.FindStatementBySid("Second"); i != 1 {
		t.Errorf("got index %d, want 1", i)
	}
	if i := doc.FindStatementBySid("Missing"); i != -1 {
		t.Errorf("got index %d, want -1", i)
	}
}

func TestAddResourcesDeduplicates(t *testing.T) {
	stmt := Statement{Sid: "S", Effect: "Allow"}
	stmt.AddResources("arn:a", "arn:b")
	stmt.AddResources("arn:a", "arn:c")
	if len(stmt.Resource) != 3 {
		t.Fatalf("got %d resources, want 3: %v", len(stmt.Resource), stmt.Resource)
	}
}

func TestRemoveResourcesLeavesOthers(t *testing.T) {
	stmt := Statement{Sid: "S", Effect: "Allow", Resource: StringList{"arn:a", "arn:b", "arn:c"}}
	stmt.RemoveResources("arn:b")
	if len(stmt.Resource) != 2 || stmt.Resource.Contains("arn:b") {
		t.Fatalf("got %v, want [arn:a arn:c]", stmt.Resource)
	}
	// Removing an absent resource is a no-op.
	stmt.RemoveResources("arn:missing")
	if len(stmt.Resource) != 2 {
		t.Fatalf("no-op removal changed resources: %v", stmt.Resource)
	}
}

func TestRemovePrincipalsKeepsSiblings(t *testing.T) {
	stmt := Statement{Sid: "S", Effect: "Allow"}
	stmt.AddPrincipals("arn:role/a", "arn:role/b")
	if empty := stmt.RemovePrincipals("arn:role/a"); empty {
		t.Fatal("statement with a remaining principal reported empty")
	}
	if !stmt.HasPrincipal("arn:role/b") {
		t.Fatal("sibling principal removed")
	}
	if empty := stmt.RemovePrincipals("arn:role/b"); !empty {
		t.Fatal("statement with no principals left should report empty")
	}
}

func TestAddPrincipalsIdempotent(t *testing.T) {
	stmt := Statement{Sid: "S", Effect: "Allow"}
	stmt.AddPrincipals("arn:role/a")
	stmt.AddPrincipals("arn:role/a")
	if len(stmt.Principal.AWS) != 1 {
		t.Fatalf("duplicate principal appended: %v", stmt.Principal.AWS)
	}
}

func TestUpsertReplacesBySid(t *testing.T) {
	doc := NewDocument()
	doc.Upsert(Statement{Sid: "S", Effect: "Allow", Resource: StringList{"arn:a"}})
	doc.Upsert(Statement{Sid: "S", Effect: "Allow", Resource: StringList{"arn:b"}})
	if len(doc.Statement) != 1 {
		t.Fatalf("got %d statements, want 1", len(doc.Statement))
	}
	if !doc.Statement[0].Resource.Contains("arn:b") {
		t.Error("upsert did not replace the statement body")
	}
}

func TestEmptyDocumentIsValidJSON(t *testing.T) {
	raw, err := EmptyDocument().String()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !strings.Contains(raw, EmptyStatementSid) {
		t.Errorf("placeholder Sid missing from %s", raw)
	}
}
