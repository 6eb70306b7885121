// Package model holds the domain's persisted document shapes. These mirror
// the MilleGrilles messagerie schema (message_structs.rs) field for field;
// names are kept in English rather than transliterated from the original.
package model

import "time"

// Destinataire is a single resolved or unresolved recipient of an outgoing
// message, as parsed from a raw address handle.
type Destinataire struct {
	Destinataire string `json:"destinataire"`
	User         string `json:"user"`
	DNS          string `json:"dns"`
	Idmg         string `json:"idmg,omitempty"`
	Processed    bool   `json:"processed"`
	Result       *int32 `json:"result,omitempty"`
}

// OutgoingMessage is the immutable, posted copy of a message a local user
// sent. It never mutates once inserted; delivery state lives in
// OutgoingProcessing instead.
type OutgoingMessage struct {
	ID              string           `json:"id"`
	UUIDTransaction string           `json:"uuid_transaction"`
	UserID          string           `json:"user_id"`
	Destinataires   []Destinataire   `json:"destinataires"`
	Fuuids          []string         `json:"fuuids,omitempty"`
	MessageChiffre  string           `json:"message_chiffre"`
	Supprime        bool             `json:"supprime"`
	DateEnvoi       time.Time        `json:"date_envoi"`
}

// AttachmentEnCours is a single attachment a peer has begun (but not
// finished) pulling.
type AttachmentEnCours struct {
	LastUpdate time.Time `json:"last_update"`
}

// IDMGMapping is the per-peer delivery state for one resolved destination
// installation.
type IDMGMapping struct {
	DNS                 []string                     `json:"dns"`
	PushCount           int                          `json:"push_count"`
	NextPushTime        time.Time                    `json:"next_push_time"`
	LastResultCode      *int32                       `json:"last_result_code,omitempty"`
	AttachmentsRestants []string                     `json:"attachments_restants"`
	AttachmentsCompletes []string                    `json:"attachments_completes"`
	AttachmentsEnCours  map[string]AttachmentEnCours `json:"attachments_en_cours"`
}

// OutgoingProcessing tracks per-destination, per-attachment delivery state
// for one outgoing message. This is the document the outbound dispatch
// state machine mutates; OutgoingMessage itself never changes after insert.
type OutgoingProcessing struct {
	TransactionID              string                 `json:"transaction_id"`
	MessageID                  string                 `json:"message_id"`
	UserID                     string                 `json:"user_id"`
	Destinataires              []Destinataire         `json:"destinataires"`
	// Attachments is the full attachment set declared by the sender at
	// Poster time; ApplyResolved seeds each new idmg mapping's
	// attachments_restants from this list.
	Attachments                []string               `json:"attachments,omitempty"`
	DNSUnresolved              []string               `json:"dns_unresolved"`
	DNSFailure                 []string               `json:"dns_failure"`
	IdmgsMapping               map[string]IDMGMapping `json:"idmgs_mapping"`
	IdmgsUnprocessed           []string               `json:"idmgs_unprocessed"`
	IdmgsAttachmentsUnprocessed []string              `json:"idmgs_attachments_unprocessed"`
	Created                    time.Time              `json:"created"`
	LastProcessed              time.Time              `json:"last_processed"`
}

// IncomingMessage is a single recipient's local copy of a received message.
type IncomingMessage struct {
	UserID              string          `json:"user_id"`
	UUIDTransaction     string          `json:"uuid_transaction"`
	UUIDMessage         string          `json:"uuid_message"`
	Lu                  bool            `json:"lu"`
	LuDate              *time.Time      `json:"lu_date,omitempty"`
	Supprime            bool            `json:"supprime"`
	DateReception       time.Time       `json:"date_reception"`
	DateOuverture       *time.Time      `json:"date_ouverture,omitempty"`
	CertificatMessage   []string        `json:"certificat_message"`
	MessageChiffre      string          `json:"message_chiffre"`
	HachageBytes        string          `json:"hachage_bytes"`
	Attachments         map[string]bool `json:"attachments,omitempty"`
	AttachmentsTraites  bool            `json:"attachments_traites"`
}

// Profile is a user's messaging profile (reachable addresses).
type Profile struct {
	UserID    string    `json:"user_id"`
	Adresses  []string  `json:"adresses"`
	Creation  time.Time `json:"creation"`
	Modified  time.Time `json:"modification"`
}

// Contact is an opaque, end-to-end-encrypted contact card. The domain never
// decrypts these; it stores and returns them unchanged.
type Contact struct {
	UUIDContact    string    `json:"uuid_contact"`
	UserID         string    `json:"user_id"`
	DataChiffre    string    `json:"data_chiffre"`
	Format         string    `json:"format"`
	RefHachageBytes string   `json:"ref_hachage_bytes,omitempty"`
	IV             string    `json:"iv,omitempty"`
	Tag            string    `json:"tag,omitempty"`
	Header         string    `json:"header,omitempty"`
	Supprime       bool      `json:"supprime"`
	Creation       time.Time `json:"creation"`
	Modified       time.Time `json:"modification"`
}

// EmailNotification is the pass-through shape handed to the postmaster for
// an email leg of a notification. Sending itself is out of scope; this is
// the stable contract a future notifier targets.
type EmailNotification struct {
	Address string `json:"address"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// NotificationOutgoingPostmaster bundles the email/webpush legs of a single
// outbound notification hand-off.
type NotificationOutgoingPostmaster struct {
	UserID  string              `json:"user_id"`
	Email   *EmailNotification  `json:"email,omitempty"`
	Webpush *WebpushNotification `json:"webpush,omitempty"`
}

// WebpushNotification is the pass-through shape for a webpush leg.
type WebpushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// DNSResolveAttempt tracks how many times a DNS label has been submitted to
// the resolver, to enforce the bounded-retry ceiling before it is demoted
// to dns_failure.
type DNSResolveAttempt struct {
	DNS       string    `json:"dns"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
}
