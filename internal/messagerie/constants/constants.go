// Package constants centralizes the domain's collection, queue, field, and
// action names so every package references the same literals.
package constants

// DomainName identifies this domain on the bus.
const DomainName = "Messagerie"

// Collection names. Each one backs a Postgres table of the same base name
// (slashes replaced with underscores) holding a `doc JSONB` payload column.
const (
	CollectionTransactions        = "messagerie"
	CollectionIncoming            = "messagerie_incoming"
	CollectionOutgoing            = "messagerie_outgoing"
	CollectionOutgoingProcessing  = "messagerie_outgoing_processing"
	CollectionAttachments         = "messagerie_attachments"
	CollectionAttachmentsProcess  = "messagerie_attachments_processing"
	CollectionProfiles            = "messagerie_profils"
	CollectionContacts            = "messagerie_contacts"
	CollectionConfiguration       = "messagerie_configuration"
	CollectionDNSResolveAttempts  = "messagerie_dns_resolve_attempts"
)

// Queue (bus subject prefix) names.
const (
	QueueTransactions = "Messagerie/transactions"
	QueueVolatils     = "Messagerie/volatils"
	QueueTriggers     = "Messagerie/triggers"
)

// Transaction actions (persisted, replayable).
const (
	TransactionPoster             = "poster"
	TransactionRecevoir           = "recevoir"
	TransactionInitialiserProfil  = "initialiserProfil"
	TransactionMajContact         = "majContact"
	TransactionLu                 = "lu"
	TransactionTransfertComplete  = "transfertComplete"
	TransactionSupprimerMessage   = "supprimerMessage"
	TransactionSupprimerContacts  = "supprimerContacts"
)

// Command actions (request/response, not necessarily persisted).
const (
	CommandePoster                    = "poster"
	CommandeRecevoir                  = "recevoir"
	CommandeInitialiserProfil         = "initialiserProfil"
	CommandeMajContact                = "majContact"
	CommandeLu                        = "lu"
	CommandeConfirmerTransmission     = "confirmerTransmission"
	CommandeProchainAttachment        = "prochainAttachment"
	CommandeUploadAttachment          = "uploadAttachment"
	CommandeSupprimerMessage          = "supprimerMessage"
	CommandeSupprimerContacts         = "supprimerContacts"
	CommandeFuuidVerifierExistance    = "fuuidVerifierExistance"
)

// Event actions.
const (
	EvenementPompePoste        = "pompePoste"
	EvenementUploadAttachment  = "uploadAttachment"
	EvenementNouveauMessage    = "nouveauMessage"
	EvenementMajContact        = "majContact"
	EvenementMessageLu         = "messageLu"
	EvenementMessagesSupprimes = "messagesSupprimes"
	EvenementContactsSupprimes = "contactsSupprimes"
)

// Field names used by store.Patch builders.
const (
	ChampUserID             = "user_id"
	ChampUUIDTransaction    = "uuid_transaction"
	ChampModification       = "modification"
	ChampAttachmentsTraites = "attachments_traites"
	ChampSupprime           = "supprime"
	ChampFuuid              = "fuuid"
	ChampFuuids             = "fuuids"
)

// AdressePrefixeUsager is the leading marker stripped from a destinatee
// handle before splitting it into user/dns parts (e.g. "@alice/example.com").
const AdressePrefixeUsager = "@"

// Security tiers (exchange levels), from least to most privileged.
type Tier string

const (
	TierL1Public Tier = "L1Public"
	TierL2Prive  Tier = "L2Prive"
	TierL3Protege Tier = "L3Protege"
	TierL4Secure Tier = "L4Secure"
)

// Upload/attachment chunk status codes exchanged with the remote peer.
const (
	UploadStatusDebut   = "DEBUT"
	UploadStatusEnCours = "ENCOURS"
	UploadStatusTermine = "TERMINE"
	UploadStatusErreur  = "ERREUR"
)

// DNSResolveMaxAttempts is the bounded-retry ceiling for a DNS label before
// it is moved from dns_unresolved to dns_failure. Resolved Open Question,
// see DESIGN.md.
const DNSResolveMaxAttempts = 5

// DNSResolveWindowHours is the rolling window (in hours) attempts are counted
// over before they expire from the ceiling count.
const DNSResolveWindowHours = 24
