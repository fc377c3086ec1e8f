package policy

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MaxStatementsPerPolicy caps statements in one document chunk. AWS enforces
// no hard statement count below the byte limit, but keeping chunks small keeps
// re-chunking stable when statements grow.
const MaxStatementsPerPolicy = 20

// statementBytes returns the serialized size of a statement. Marshal cannot
// fail for Statement values built from strings, so the error collapses to a
// worst-case size that forces the statement into its own chunk.
func statementBytes(stmt Statement) int {
	data, err := json.Marshal(stmt)
	if err != nil {
		return ManagedPolicyMaxBytes
	}
	return len(data)
}

// documentOverheadBytes is the serialized size of an empty document shell
// ({"Version":...,"Statement":[]}) plus comma separators, reserved out of the
// byte budget so a full chunk still serializes under the limit.
const documentOverheadBytes = 64

// SplitStatements packs statements into chunks, each serializing to at most
// maxBytes and holding at most maxStatements statements. Packing is greedy
// first-fit in input order, so chunk layout is stable for a stable input. An
// oversized single statement is placed alone in its own chunk; callers split
// such statements by resource first (see SplitResourceStatements).
func SplitStatements(statements []Statement, maxBytes, maxStatements int) [][]Statement {
	if maxBytes <= 0 {
		maxBytes = ManagedPolicyMaxBytes
	}
	if maxStatements <= 0 {
		maxStatements = MaxStatementsPerPolicy
	}
	budget := maxBytes - documentOverheadBytes

	var chunks [][]Statement
	var current []Statement
	currentBytes := 0

	for _, stmt := range statements {
		size := statementBytes(stmt)
		if len(current) > 0 && (currentBytes+size > budget || len(current) >= maxStatements) {
			chunks = append(chunks, current)
			current = nil
			currentBytes = 0
		}
		current = append(current, stmt)
		currentBytes += size
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// SplitResourceStatements distributes a flat resource list across one or more
// statements sharing the same effect and actions, each statement serializing
// under maxBytes. Statement Sids are baseSid followed by the chunk ordinal
// ("BucketStatementS30", "BucketStatementS31", ...), so Sid-prefix matching
// finds every sibling of a logical statement family.
func SplitResourceStatements(baseSid, effect string, actions, resources []string, maxBytes int) []Statement {
	if len(resources) == 0 {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = ManagedPolicyMaxBytes
	}
	budget := maxBytes - documentOverheadBytes

	var statements []Statement
	next := Statement{Effect: effect, Action: actions}
	for _, resource := range resources {
		if next.Resource.Contains(resource) {
			continue
		}
		candidate := next
		candidate.Resource = append(append(StringList{}, next.Resource...), resource)
		if len(next.Resource) > 0 && statementBytes(candidate) > budget {
			statements = append(statements, next)
			next = Statement{Effect: effect, Action: actions}
		}
		next.Resource = append(next.Resource, resource)
	}
	statements = append(statements, next)

	for i := range statements {
		statements[i].Sid = baseSid + strconv.Itoa(i)
	}
	return statements
}

// MergeStatementResources flattens the resource lists of every statement in a
// logical family into one deduplicated list, preserving first-seen order.
// Together with SplitResourceStatements this makes chunking invertible: the
// merged resource set of the split equals the merged set of the input.
func MergeStatementResources(statements []Statement) []string {
	seen := make(map[string]struct{})
	var merged []string
	for _, stmt := range statements {
		for _, r := range stmt.Resource {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			merged = append(merged, r)
		}
	}
	return merged
}

// ValidateChunkSizes confirms every chunk serializes as a full document under
// maxBytes. Used by tests and as a guard before shipping documents to IAM.
func ValidateChunkSizes(chunks [][]Statement, maxBytes int) error {
	for i, chunk := range chunks {
		doc := Document{Version: DefaultVersion, Statement: chunk}
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("serialize chunk %d: %w", i, err)
		}
		if len(raw) > maxBytes {
			return fmt.Errorf("chunk %d serializes to %d bytes, limit %d", i, len(raw), maxBytes)
		}
	}
	return nil
}
