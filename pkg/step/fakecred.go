package step

import (
	"fmt"

	"github.com/google/uuid"
)

// FakeCredential synthesizes an opaque credential blob for callers
// with no real signed credential to supply — credential signing is an
// external collaborator's job and stays out of this module's scope.
// The core never inspects the bytes it returns; they only round-trip
// through LaunchTasksRequest.Cred.
func FakeCredential(jobID, stepID uint32) []byte {
	return []byte(fmt.Sprintf("fake-cred:%d.%d:%s", jobID, stepID, uuid.NewString()))
}
