package awsc

import (
	"errors"

	"github.com/aws/smithy-go"
)

// IsErrorCode reports whether err is an AWS API error carrying one of the
// given error codes.
func IsErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is a not-found style error from any of the
// services the sharing engine calls. Each service spells absence differently;
// the managers treat all of them as "nothing to read / nothing to revoke".
func IsNotFound(err error) bool {
	return IsErrorCode(err,
		"NoSuchEntity",            // IAM
		"NoSuchBucketPolicy",      // S3
		"NoSuchAccessPoint",       // S3 Control
		"NoSuchAccessPointPolicy", // S3 Control
		"NotFoundException",       // KMS, S3 Control
		"EntityNotFoundException", // Glue, Lake Formation
		"NoSuchResourceException", // Service Quotas
	)
}

// IsAlreadyExists reports whether err signals that the resource being created
// already exists. Grant paths treat these as success (idempotent create).
func IsAlreadyExists(err error) bool {
	return IsErrorCode(err,
		"EntityAlreadyExists",    // IAM
		"AlreadyExistsException", // Glue
		"AccessPointAlreadyOwnedByYou",
	)
}
