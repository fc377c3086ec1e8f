package share

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Object is one sharing relationship between one dataset and one principal in
// one target environment. At most one non-deleted Object exists per
// (dataset, target environment, principal) triple; the store enforces it.
type Object struct {
	URI              string
	DatasetURI       string
	SourceEnvURI     string
	TargetEnvURI     string
	GroupURI         string
	PrincipalID      string
	PrincipalType    PrincipalType
	PrincipalRoleName string
	Permissions      []Permission
	Status           ObjectStatus
	RequestPurpose   string
	RejectPurpose    string
	Owner            string
	Created          time.Time
	Updated          time.Time
	Deleted          *time.Time
}

// Item is one shareable unit (table, folder, bucket) attached to an Object.
type Item struct {
	URI            string
	ShareURI       string
	Kind           ItemKind
	TargetURI      string
	TargetName     string
	Status         ItemStatus
	Health         HealthStatus
	HealthMessage  string
	LastVerified   *time.Time
	DataFilterURI  string
	Created        time.Time
	Updated        time.Time
}

// DataFilter is an optional row/column filter applied to a shared table,
// referenced by name when granting filtered Lake Formation permissions.
type DataFilter struct {
	URI         string
	ItemURI     string
	FilterNames []string
}

// Dataset describes the dataset whose resources are being shared. Read-only
// facts as far as the sharing engine is concerned.
type Dataset struct {
	URI              string
	Name             string
	AccountID        string
	Region           string
	GlueDatabaseName string
	S3BucketName     string
	KMSAlias         string
	AdminRoleName    string
}

// Environment is the AWS account/region a principal or dataset lives in.
type Environment struct {
	URI        string
	Name       string
	AccountID  string
	Region     string
	AdminGroup string
}

// EnvironmentGroup is a team group onboarded to an environment with its own
// IAM role.
type EnvironmentGroup struct {
	GroupURI    string
	EnvURI      string
	IAMRoleName string
	IAMRoleARN  string
}

// ConsumptionRole is a standalone IAM role registered as a share principal.
// Managed roles have their share policies maintained by this engine;
// unmanaged ones bring their own policies.
type ConsumptionRole struct {
	URI         string
	EnvURI      string
	IAMRoleName string
	IAMRoleARN  string
	Managed     bool
}

// Table is a Glue table exposed by a dataset.
type Table struct {
	URI          string
	DatasetURI   string
	DatabaseName string
	Name         string
	Region       string
	AccountID    string
}

// StorageLocation is an S3 prefix (folder) exposed by a dataset.
type StorageLocation struct {
	URI        string
	DatasetURI string
	BucketName string
	S3Prefix   string
	Region     string
	AccountID  string
}

// Bucket is a whole S3 bucket exposed by a dataset.
type Bucket struct {
	URI        string
	DatasetURI string
	Name       string
	Region     string
	AccountID  string
	KMSAlias   string
}

// Data bundles everything one sharing operation needs: the share itself plus
// the read-only context resolved once up front.
type Data struct {
	Share             *Object
	Dataset           *Dataset
	SourceEnvironment *Environment
	TargetEnvironment *Environment
	SourceEnvGroup    *EnvironmentGroup
	TargetEnvGroup    *EnvironmentGroup
}

// NewURI returns a fresh identifier for shares and items.
func NewURI() string {
	return uuid.NewString()
}

// NewObject creates a share request in Draft.
func NewObject(datasetURI, sourceEnvURI, targetEnvURI, groupURI, principalID string, ptype PrincipalType, roleName, owner string, permissions []Permission) *Object {
	now := time.Now().UTC()
	return &Object{
		URI:               NewURI(),
		DatasetURI:        datasetURI,
		SourceEnvURI:      sourceEnvURI,
		TargetEnvURI:      targetEnvURI,
		GroupURI:          groupURI,
		PrincipalID:       principalID,
		PrincipalType:     ptype,
		PrincipalRoleName: roleName,
		Permissions:       permissions,
		Status:            ObjectDraft,
		Owner:             owner,
		Created:           now,
		Updated:           now,
	}
}

// NewItem attaches a shareable unit to a share in PendingApproval.
func NewItem(shareURI string, kind ItemKind, targetURI, targetName string) *Item {
	now := time.Now().UTC()
	return &Item{
		URI:        NewURI(),
		ShareURI:   shareURI,
		Kind:       kind,
		TargetURI:  targetURI,
		TargetName: targetName,
		Status:     ItemPendingApproval,
		Health:     HealthPendingVerify,
		Created:    now,
		Updated:    now,
	}
}

// InSharedState reports whether the item still backs a live AWS grant. Shares
// and items must not be hard-deleted while any item is in one of these states.
func (i *Item) InSharedState() bool {
	switch i.Status {
	case ItemShareSucceeded, ItemShareInProgress, ItemRevokeApproved, ItemRevokeInProgress, ItemRevokeFailed:
		return true
	}
	return false
}

// PrincipalRoleARN builds the principal role ARN in the target account.
func (d *Data) PrincipalRoleARN() string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", d.TargetEnvironment.AccountID, d.Share.PrincipalRoleName)
}

// CrossAccount reports whether the share spans two AWS accounts.
func (d *Data) CrossAccount() bool {
	return d.SourceEnvironment.AccountID != d.TargetEnvironment.AccountID
}

// SharedDatabaseName is the consumer-side Glue database holding resource
// links for this share's dataset.
func (d *Data) SharedDatabaseName() string {
	return d.Dataset.GlueDatabaseName + "_shared"
}
