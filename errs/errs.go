// Package errs implements the tagged, prefix-chained error model used
// throughout slotupdate. Errors carry an enum Kind (never an inheritance
// chain) plus a trail of human-readable context strings appended by every
// layer that rewraps the error on its way back up, mirroring the original
// implementation's g_propagate_prefixed_error.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the leaf error condition. Kinds are grouped the way
// spec.md groups them (BUNDLE, CONFIG, MANIFEST, SLOT, INSTALL, UPDATE)
// but are represented as a flat enum since Go has no natural analogue of
// GLib's per-domain error enums.
type Kind int

const (
	Unknown Kind = iota

	// bundle
	BundleIdentifier
	BundleSignature
	BundleKeyring
	BundleFormat
	BundleUnsafe
	BundleVerity
	BundlePayload
	BundleCrypt
	BundleUnknownFormat
	BundleMount

	// config
	ConfigParent
	ConfigParentLoop
	ConfigChildHasBootname
	ConfigDuplicateBootname
	ConfigInvalidFormat
	ConfigSlotType
	ConfigInvalidDevice
	ConfigMaxBundleDownloadSize
	ConfigDataDirectory
	ConfigBootloader

	// manifest
	ManifestNoData
	ManifestChecksum
	ManifestCompatible
	ManifestParse
	ManifestEmptyString
	ManifestCheck

	// slot
	SlotNoConfig
	SlotNoBootslot
	SlotNoSlotWithStateBooted
	SlotFailed

	// install
	InstallFailed
	InstallRejectedHook
	InstallImageMapping
	InstallReadonlySlot
	InstallHandler

	// update
	UpdateNoHandler
)

var kindNames = map[Kind]string{
	Unknown:                     "UNKNOWN",
	BundleIdentifier:            "BUNDLE_IDENTIFIER",
	BundleSignature:             "BUNDLE_SIGNATURE",
	BundleKeyring:               "BUNDLE_KEYRING",
	BundleFormat:                "BUNDLE_FORMAT",
	BundleUnsafe:                "BUNDLE_UNSAFE",
	BundleVerity:                "BUNDLE_VERITY",
	BundlePayload:               "BUNDLE_PAYLOAD",
	BundleCrypt:                 "BUNDLE_CRYPT",
	BundleUnknownFormat:         "BUNDLE_UNKNOWN_FORMAT",
	BundleMount:                 "BUNDLE_MOUNT",
	ConfigParent:                "CONFIG_PARENT",
	ConfigParentLoop:            "CONFIG_PARENT_LOOP",
	ConfigChildHasBootname:      "CONFIG_CHILD_HAS_BOOTNAME",
	ConfigDuplicateBootname:     "CONFIG_DUPLICATE_BOOTNAME",
	ConfigInvalidFormat:         "CONFIG_INVALID_FORMAT",
	ConfigSlotType:              "CONFIG_SLOT_TYPE",
	ConfigInvalidDevice:         "CONFIG_INVALID_DEVICE",
	ConfigMaxBundleDownloadSize: "CONFIG_MAX_BUNDLE_DOWNLOAD_SIZE",
	ConfigDataDirectory:         "CONFIG_DATA_DIRECTORY",
	ConfigBootloader:            "CONFIG_BOOTLOADER",
	ManifestNoData:              "MANIFEST_NO_DATA",
	ManifestChecksum:            "MANIFEST_CHECKSUM",
	ManifestCompatible:          "MANIFEST_COMPATIBLE",
	ManifestParse:               "MANIFEST_PARSE",
	ManifestEmptyString:         "MANIFEST_EMPTY_STRING",
	ManifestCheck:               "MANIFEST_CHECK",
	SlotNoConfig:                "SLOT_NO_CONFIG",
	SlotNoBootslot:              "SLOT_NO_BOOTSLOT",
	SlotNoSlotWithStateBooted:   "NO_SLOT_WITH_STATE_BOOTED",
	SlotFailed:                  "SLOT_FAILED",
	InstallFailed:               "INSTALL_FAILED",
	InstallRejectedHook:         "REJECTED_HOOK",
	InstallImageMapping:         "IMAGE_MAPPING",
	InstallReadonlySlot:         "READONLY_SLOT",
	InstallHandler:              "INSTALL_HANDLER",
	UpdateNoHandler:             "UPDATE_NO_HANDLER",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// Error is the concrete error type returned by every slotupdate package.
type Error struct {
	Kind  Kind
	Msg   string
	Trail []string
	cause error
}

// New creates a fresh tagged error.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap keeps the wrapped error's Kind if it is already a *Error (a
// foreign error gets Kind Unknown) and prepends a context string to
// Trail, mimicking g_propagate_prefixed_error's "prefix trail".
func Wrap(err error, context string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Kind:  e.Kind,
			Msg:   e.Msg,
			Trail: append([]string{context}, e.Trail...),
			cause: e.cause,
		}
	}
	return &Error{Kind: Unknown, Msg: err.Error(), Trail: []string{context}, cause: err}
}

func (e *Error) Error() string {
	if len(e.Trail) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", strings.Join(e.Trail, ": "), e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is lets errors.Is(err, errs.BundleSignature) work by comparing Kind
// against a sentinel Error carrying only that Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// Of builds a bare sentinel used with errors.Is, e.g. errors.Is(err, errs.Of(errs.BundleUnsafe)).
func Of(kind Kind) *Error {
	return &Error{Kind: kind}
}
