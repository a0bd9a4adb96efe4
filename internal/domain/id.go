package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed ids. The version suffix leaves room
// to change the derivation without colliding with existing ids.
const (
	DomainProjection = "fellowship/projection/v1"
	DomainMessage    = "fellowship/message/v1"
	DomainComment    = "fellowship/comment/v1"
)

// contentIDLength is the number of hex characters kept from the digest.
// Ids land in remote document paths, so they stay short.
const contentIDLength = 32

// hashWithDomain computes SHA-256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))[:contentIDLength]
}

// ContentID hashes fields under domain. The same fields always yield the
// same id.
func ContentID(domain string, fields map[string]any) (string, error) {
	canonical, err := MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("content id %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// ProjectionID is the announcement id projected from a source entity.
// Re-projecting the same source always targets the same announcement.
func ProjectionID(sourceKind Kind, sourceID string) string {
	return mustContentID(DomainProjection, map[string]any{
		"source_kind": string(sourceKind),
		"source_id":   sourceID,
	})
}

// MessageID is the remote id of a group message submitted with
// correlationID. A retry with the same correlation id addresses the same
// document, so it cannot produce a duplicate.
func MessageID(groupID, correlationID string) string {
	return mustContentID(DomainMessage, map[string]any{
		"group_id":       groupID,
		"correlation_id": correlationID,
	})
}

// CommentID is the remote id of a discussion comment submitted with
// correlationID.
func CommentID(discussionID, correlationID string) string {
	return mustContentID(DomainComment, map[string]any{
		"discussion_id":  discussionID,
		"correlation_id": correlationID,
	})
}

// mustContentID is only called with string fields, which always marshal.
func mustContentID(domain string, fields map[string]any) string {
	id, err := ContentID(domain, fields)
	if err != nil {
		panic(err)
	}
	return id
}
