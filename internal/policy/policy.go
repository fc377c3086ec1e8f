// Package policy models AWS IAM policy documents and provides the pure
// statement manipulation used by the sharing engine: Sid lookup, resource and
// principal add/remove, and chunking of large statement sets under AWS policy
// size limits. AWS accepts both scalar and list forms for Action, Resource,
// and principal entries, so all list-valued fields round-trip through
// StringList, which normalizes a scalar to a one-element list on decode.
package policy

import (
	"encoding/json"
	"fmt"
)

// DefaultVersion is the policy language version AWS expects on every document.
const DefaultVersion = "2012-10-17"

// AWS document size limits, in bytes of the serialized JSON. Inline role
// policies are capped lower than customer managed policies.
const (
	InlinePolicyMaxBytes  = 2048
	ManagedPolicyMaxBytes = 6144
)

// EmptyStatementSid names the placeholder statement carried by a managed
// policy that currently grants nothing. IAM rejects a policy with an empty
// Statement array, so an indexed policy that would otherwise be empty holds
// this single no-op statement until real grants arrive.
const EmptyStatementSid = "EmptyStatement"

// StringList is a JSON string list that also accepts a bare string on decode.
type StringList []string

// UnmarshalJSON accepts either "v" or ["v1","v2"].
func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("string or string list expected: %w", err)
	}
	*l = many
	return nil
}

// Contains reports whether v is present in the list.
func (l StringList) Contains(v string) bool {
	for _, s := range l {
		if s == v {
			return true
		}
	}
	return false
}

// Principal is the principal block of a resource-based policy statement.
// Only AWS principals (role/account ARNs) and service principals appear in
// sharing statements.
type Principal struct {
	AWS     StringList `json:"AWS,omitempty"`
	Service StringList `json:"Service,omitempty"`
}

// Statement is a single IAM policy statement.
type Statement struct {
	Sid       string                           `json:"Sid,omitempty"`
	Effect    string                           `json:"Effect"`
	Principal *Principal                       `json:"Principal,omitempty"`
	Action    StringList                       `json:"Action"`
	Resource  StringList                       `json:"Resource,omitempty"`
	Condition map[string]map[string]StringList `json:"Condition,omitempty"`
}

// Document is an IAM policy document.
type Document struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// NewDocument returns an empty document with the default language version.
func NewDocument() *Document {
	return &Document{Version: DefaultVersion}
}

// Parse decodes a policy document from its JSON form. AWS returns documents
// URL-decoded by the callers in internal/awsc, so raw is plain JSON here.
func Parse(raw string) (*Document, error) {
	doc := &Document{}
	if err := json.Unmarshal([]byte(raw), doc); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	if doc.Version == "" {
		doc.Version = DefaultVersion
	}
	return doc, nil
}

// String serializes the document to the compact JSON form sent to AWS.
func (d *Document) String() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("serialize policy document: %w", err)
	}
	return string(data), nil
}

// FindStatementBySid returns the index of the statement with the given Sid,
// or -1 when absent.
func (d *Document) FindStatementBySid(sid string) int {
	for i, stmt := range d.Statement {
		if stmt.Sid == sid {
			return i
		}
	}
	return -1
}

// Upsert replaces the statement with the same Sid or appends stmt when no
// statement carries it yet.
func (d *Document) Upsert(stmt Statement) {
	if i := d.FindStatementBySid(stmt.Sid); i >= 0 {
		d.Statement[i] = stmt
		return
	}
	d.Statement = append(d.Statement, stmt)
}

// RemoveStatement drops the statement with the given Sid. Removing an absent
// Sid is a no-op.
func (d *Document) RemoveStatement(sid string) {
	if i := d.FindStatementBySid(sid); i >= 0 {
		d.Statement = append(d.Statement[:i], d.Statement[i+1:]...)
	}
}

// AddResources appends the given ARNs to the statement's resource list,
// skipping any already present.
func (s *Statement) AddResources(resources ...string) {
	for _, r := range resources {
		if !s.Resource.Contains(r) {
			s.Resource = append(s.Resource, r)
		}
	}
}

// RemoveResources drops the given ARNs from the statement's resource list.
// The caller must filter out a statement whose resource list became empty
// before sending the document to AWS.
func (s *Statement) RemoveResources(resources ...string) {
	drop := make(map[string]struct{}, len(resources))
	for _, r := range resources {
		drop[r] = struct{}{}
	}
	kept := s.Resource[:0]
	for _, r := range s.Resource {
		if _, ok := drop[r]; !ok {
			kept = append(kept, r)
		}
	}
	s.Resource = kept
}

// ContainsResources reports whether every given ARN appears in the
// statement's resource list.
func (s *Statement) ContainsResources(resources []string) bool {
	for _, r := range resources {
		if !s.Resource.Contains(r) {
			return false
		}
	}
	return true
}

// AddPrincipals appends AWS principal ARNs to the statement, skipping
// duplicates and initializing the principal block when absent.
func (s *Statement) AddPrincipals(arns ...string) {
	if s.Principal == nil {
		s.Principal = &Principal{}
	}
	for _, arn := range arns {
		if !s.Principal.AWS.Contains(arn) {
			s.Principal.AWS = append(s.Principal.AWS, arn)
		}
	}
}

// RemovePrincipals drops AWS principal ARNs from the statement. It reports
// whether the statement is left with no AWS principals, in which case the
// caller must remove the whole statement: AWS rejects a statement with an
// empty principal list.
func (s *Statement) RemovePrincipals(arns ...string) (empty bool) {
	if s.Principal == nil {
		return true
	}
	drop := make(map[string]struct{}, len(arns))
	for _, arn := range arns {
		drop[arn] = struct{}{}
	}
	kept := s.Principal.AWS[:0]
	for _, arn := range s.Principal.AWS {
		if _, ok := drop[arn]; !ok {
			kept = append(kept, arn)
		}
	}
	s.Principal.AWS = kept
	return len(kept) == 0 && len(s.Principal.Service) == 0
}

// HasPrincipal reports whether the statement names the given AWS principal.
func (s *Statement) HasPrincipal(arn string) bool {
	return s.Principal != nil && s.Principal.AWS.Contains(arn)
}

// EmptyStatement returns the placeholder statement used to keep an otherwise
// empty managed policy valid.
func EmptyStatement() Statement {
	return Statement{
		Sid:      EmptyStatementSid,
		Effect:   "Allow",
		Action:   StringList{"none:null"},
		Resource: StringList{"*"},
	}
}

// EmptyDocument returns a document holding only the placeholder statement.
func EmptyDocument() *Document {
	return &Document{
		Version:   DefaultVersion,
		Statement: []Statement{EmptyStatement()},
	}
}
