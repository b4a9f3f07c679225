package epochbroker

import "github.com/sneh-joshi/epochbroker/internal/errkind"

// Kind is the semantic classification of an error returned by this package.
// See the package-level Is* helpers for the common checks.
type Kind = errkind.Kind

// Error kinds a caller may branch on via errors.Is-style helpers below.
const (
	KindInvalidArgument  = errkind.InvalidArgument
	KindNotFound         = errkind.NotFound
	KindAlreadyExists    = errkind.AlreadyExists
	KindTypeMismatch     = errkind.TypeMismatch
	KindValidationFailed = errkind.ValidationFailure
	KindStorageFailure   = errkind.StorageFailure
	KindCodecFailure     = errkind.CodecFailure
	KindAborted          = errkind.Aborted
	KindInternal         = errkind.Internal
)

// ErrorKind returns the semantic Kind carried by err, or KindInternal's
// zero-value sibling (errkind.Unknown) if err did not originate in this
// module.
func ErrorKind(err error) Kind { return errkind.KindOf(err) }

// IsNotFound reports whether err represents a missing topic or client.
func IsNotFound(err error) bool { return errkind.Is(err, errkind.NotFound) }

// IsAlreadyExists reports whether err represents a topic-name collision.
func IsAlreadyExists(err error) bool { return errkind.Is(err, errkind.AlreadyExists) }

// IsValidationFailure reports whether err represents a schema-rejected
// payload.
func IsValidationFailure(err error) bool { return errkind.Is(err, errkind.ValidationFailure) }
