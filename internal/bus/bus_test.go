package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/millegrilles/messagerie/internal/messagerie/constants"
)

func TestRouteSubject(t *testing.T) {
	r := Route{Kind: KindCommande, Domain: constants.DomainName, Verb: "poster"}
	assert.Equal(t, "commande.Messagerie.poster", r.Subject())
}

func TestMarkPoisonPillIsDetected(t *testing.T) {
	base := errors.New("bad payload")
	wrapped := MarkPoisonPill(base)

	assert.True(t, isPoisonPill(wrapped))
	assert.True(t, errors.Is(wrapped, base))
}

func TestNonPoisonPillErrorIsNotDetected(t *testing.T) {
	assert.False(t, isPoisonPill(errors.New("transient nats timeout")))
}
