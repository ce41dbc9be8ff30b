package campaign

import "time"

// ContentMode selects what gets delivered per contact.
type ContentMode string

const (
	// ContentText sends the row's message as plain text.
	ContentText ContentMode = "text"
	// ContentAttachments sends the configured attachment pair with the
	// row's message as caption (falling back to plain text when no
	// attachments are present).
	ContentAttachments ContentMode = "attachments"
)

// Options parameterize one run. Zero delays mean no pacing.
type Options struct {
	CountryCode  string
	DelayAfter   time.Duration
	DelayBetween time.Duration
	ContentMode  ContentMode
}

// Per-row status strings as emitted on progress events. These are
// operator-facing and match the reports' language.
const (
	statusSkipped   = "saltado"
	statusInvalid   = "invalido"
	statusDuplicate = "duplicado"
	statusError     = "error"
	statusSent      = "enviado"
	statusSentOne   = "enviado (1 adjunto)"
	statusSentTwo   = "enviado (2 adjuntos)"
)

// Report field values.
const (
	estadoActivo   = "activo"
	estadoInvalido = "invalido"

	mandoSi = "si"
	mandoNo = "no"

	motivoNone         = "-"
	motivoEmpty        = "vacío/descartado"
	motivoUnregistered = "no registrado"
	motivoDuplicate    = "duplicado"
	motivoSendError    = "error envío"
)

// pauseBetweenAttachments is the fixed gap between the captioned first
// attachment and the bare second one.
const pauseBetweenAttachments = 250 * time.Millisecond
