package models

import (
	"strconv"

	"github.com/google/uuid"
)

// RelatedID and RelatedUUID format the two id families into the text
// form notifications store for their polymorphic related-entity
// reference.
func RelatedID(id int64) string { return strconv.FormatInt(id, 10) }

func RelatedUUID(id uuid.UUID) string { return id.String() }
