// Package share holds the sharing domain model: share objects and items,
// their lifecycle state machines, and the permission vocabulary shared by the
// managers and the orchestration service.
package share

// ObjectStatus is the lifecycle status of a ShareObject.
type ObjectStatus string

const (
	ObjectDraft            ObjectStatus = "Draft"
	ObjectSubmitted        ObjectStatus = "Submitted"
	ObjectApproved         ObjectStatus = "Approved"
	ObjectRejected         ObjectStatus = "Rejected"
	ObjectRevoked          ObjectStatus = "Revoked"
	ObjectShareInProgress  ObjectStatus = "Share_In_Progress"
	ObjectRevokeInProgress ObjectStatus = "Revoke_In_Progress"
	ObjectProcessed        ObjectStatus = "Processed"
	ObjectDeleted          ObjectStatus = "Deleted"
)

// ItemStatus is the lifecycle status of a single ShareObjectItem. Items run
// an independent state machine nested inside the share.
type ItemStatus string

const (
	ItemPendingApproval  ItemStatus = "PendingApproval"
	ItemShareApproved    ItemStatus = "Share_Approved"
	ItemShareRejected    ItemStatus = "Share_Rejected"
	ItemShareInProgress  ItemStatus = "Share_In_Progress"
	ItemShareSucceeded   ItemStatus = "Share_Succeeded"
	ItemShareFailed      ItemStatus = "Share_Failed"
	ItemRevokeApproved   ItemStatus = "Revoke_Approved"
	ItemRevokeInProgress ItemStatus = "Revoke_In_Progress"
	ItemRevokeSucceeded  ItemStatus = "Revoke_Succeeded"
	ItemRevokeFailed     ItemStatus = "Revoke_Failed"
	ItemDeleted          ItemStatus = "Deleted"
)

// HealthStatus tracks configuration drift per item, orthogonal to ItemStatus.
type HealthStatus string

const (
	HealthHealthy       HealthStatus = "Healthy"
	HealthUnhealthy     HealthStatus = "Unhealthy"
	HealthPendingVerify HealthStatus = "PendingVerify"
	HealthPendingReApply HealthStatus = "PendingReApply"
)

// Action is a state machine input. Share-level and item-level machines share
// the vocabulary; each machine accepts the subset listed in its table.
type Action string

const (
	ActionSubmit             Action = "Submit"
	ActionApprove            Action = "Approve"
	ActionReject             Action = "Reject"
	ActionRevokeItems        Action = "RevokeItems"
	ActionStart              Action = "Start"
	ActionFinish             Action = "Finish"
	ActionFinishPending      Action = "FinishPending"
	ActionDelete             Action = "Delete"
	ActionAddItem            Action = "AddItem"
	ActionRemoveItem         Action = "RemoveItem"
	ActionSuccess            Action = "Success"
	ActionFailure            Action = "Failure"
	ActionAcquireLockFailure Action = "AcquireLockFailure"
)

// ItemKind tags the resource kind a share item points at.
type ItemKind string

const (
	KindTable           ItemKind = "Table"
	KindStorageLocation ItemKind = "StorageLocation"
	KindBucket          ItemKind = "S3Bucket"
)

// PrincipalType distinguishes team groups from standalone consumption roles.
type PrincipalType string

const (
	PrincipalGroup           PrincipalType = "Group"
	PrincipalConsumptionRole PrincipalType = "ConsumptionRole"
)

// Permission is a requested data permission level on a share.
type Permission string

const (
	PermissionRead   Permission = "Read"
	PermissionWrite  Permission = "Write"
	PermissionModify Permission = "Modify"
)
