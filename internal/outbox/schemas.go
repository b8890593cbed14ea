package outbox

import "example.com/teamdash/internal/events"

// SchemaMetadata describes the JSON schema registered for an event type.
type SchemaMetadata struct {
	Schema string
}

var schemaCatalog = map[string]SchemaMetadata{
	events.TypeImportCompleted: {Schema: importCompletedSchema},
	events.TypeImportDeleted:   {Schema: importDeletedSchema},
	events.TypeMemberDeleted:   {Schema: memberDeletedSchema},
}

const importCompletedSchema = `{
  "type": "object",
  "title": "ImportCompleted",
  "properties": {
    "event_id": {"type": "string"},
    "import_id": {"type": "string"},
    "member_id": {"type": "string"},
    "member_name": {"type": "string"},
    "source": {"type": "string"},
    "restored_from": {"type": "string"},
    "activity_count": {
      "type": "object",
      "properties": {
        "emails": {"type": "integer"},
        "calls": {"type": "integer"},
        "meetings": {"type": "integer"},
        "proposals": {"type": "integer"}
      },
      "required": ["emails", "calls", "meetings", "proposals"]
    },
    "prospect_count": {"type": "integer"},
    "won_count": {"type": "integer"},
    "won_revenue": {"type": "number"},
    "exported_at": {"type": "string", "format": "date-time"},
    "imported_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "import_id", "member_id", "member_name", "source", "activity_count", "prospect_count", "won_count", "won_revenue", "exported_at", "imported_at"],
  "additionalProperties": false
}`

const importDeletedSchema = `{
  "type": "object",
  "title": "ImportDeleted",
  "properties": {
    "event_id": {"type": "string"},
    "import_id": {"type": "string"},
    "member_id": {"type": "string"},
    "was_current": {"type": "boolean"},
    "deleted_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "import_id", "member_id", "was_current", "deleted_at"],
  "additionalProperties": false
}`

const memberDeletedSchema = `{
  "type": "object",
  "title": "MemberDeleted",
  "properties": {
    "event_id": {"type": "string"},
    "member_id": {"type": "string"},
    "member_name": {"type": "string"},
    "imports_deleted": {"type": "integer"},
    "deleted_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "member_id", "member_name", "imports_deleted", "deleted_at"],
  "additionalProperties": false
}`
