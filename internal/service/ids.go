package service

import (
	"strings"

	"github.com/google/uuid"
)

const documentIDLength = 8

func newDocumentID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:documentIDLength]
}
