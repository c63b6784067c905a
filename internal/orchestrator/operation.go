package orchestrator

import "github.com/smallbiznis/signflow/internal/authorization"

// OperationKind enumerates the public operations. Each kind carries the
// access check it requires.
type OperationKind int

const (
	OpCreateEnvelope OperationKind = iota + 1
	OpUpdateEnvelope
	OpSendEnvelope
	OpSignDocument
	OpDeclineSigner
	OpCancelEnvelope
	OpDownloadDocument
	OpGetAuditTrail
	OpShareDocumentView
	OpAcceptInvitation
	OpGetEnvelope
)

type operationSpec struct {
	name   string
	object string
	action string
}

var operationSpecs = map[OperationKind]operationSpec{
	OpCreateEnvelope:    {"create_envelope", authorization.ObjectEnvelope, authorization.ActionEnvelopeCreate},
	OpUpdateEnvelope:    {"update_envelope", authorization.ObjectEnvelope, authorization.ActionEnvelopeUpdate},
	OpSendEnvelope:      {"send_envelope", authorization.ObjectEnvelope, authorization.ActionEnvelopeSend},
	OpSignDocument:      {"sign_document", authorization.ObjectEnvelope, authorization.ActionEnvelopeSign},
	OpDeclineSigner:     {"decline_signer", authorization.ObjectEnvelope, authorization.ActionEnvelopeDecline},
	OpCancelEnvelope:    {"cancel_envelope", authorization.ObjectEnvelope, authorization.ActionEnvelopeCancel},
	OpDownloadDocument:  {"download_document", authorization.ObjectDocument, authorization.ActionDocumentDownload},
	OpGetAuditTrail:     {"get_audit_trail", authorization.ObjectAuditTrail, authorization.ActionAuditTrailView},
	OpShareDocumentView: {"share_document_view", authorization.ObjectDocument, authorization.ActionDocumentShare},
	OpAcceptInvitation:  {"accept_invitation", authorization.ObjectInvitation, authorization.ActionInvitationAccept},
	OpGetEnvelope:       {"get_envelope", authorization.ObjectEnvelope, authorization.ActionEnvelopeView},
}

func (k OperationKind) String() string {
	if spec, ok := operationSpecs[k]; ok {
		return spec.name
	}
	return "unknown"
}

// Access returns the object and action checked before the operation runs.
func (k OperationKind) Access() (object string, action string) {
	spec := operationSpecs[k]
	return spec.object, spec.action
}

func (k OperationKind) Valid() bool {
	_, ok := operationSpecs[k]
	return ok
}
