package mcpserver

// ChangeFormatContract describes how LLM consumers must express proposed
// changes to a bundle.
const ChangeFormatContract = `# Bundle Change Format Contract

Changes are submitted as a batch (a JSON array, or an object with a
` + "`changes`" + ` array). A batch is applied in order and is atomic: after the
files are written the whole bundle is reloaded and validated, and if any
error diagnostic remains every touched file is restored.

## Change object

` + "```" + `json
{
  "entityType": "Requirement",       // REQUIRED: an entity type of the bundle
  "entityId": "REQ-001",             // REQUIRED: the entity id
  "fieldPath": "acceptanceCriteria/-", // update only
  "originalValue": null,             // OPTIONAL: informational
  "newValue": "...",                 // the new value or, for create, the payload
  "operation": "update",             // OPTIONAL: create | update | delete
  "delete": false                    // OPTIONAL: true deletes the entity
}
` + "```" + `

## Rules

1. **Operation inference.** When ` + "`operation`" + ` is omitted: ` + "`delete: true`" + ` deletes,
   an empty ` + "`fieldPath`" + ` creates, anything else updates.
2. **Field paths** are dotted (` + "`meta.owner`" + `, ` + "`acceptanceCriteria.0`" + `) or JSON pointers
   (` + "`/meta/owner`" + `). Numeric segments index arrays; ` + "`-`" + ` appends.
   Missing intermediate objects are created.
3. **Removing a field.** Set ` + "`newValue`" + ` to ` + "`null`" + `.
4. **The id field cannot be updated.** Delete and recreate instead.
5. **Ids are unique across all entity types.** Creating an id that exists
   anywhere in the bundle fails the batch.
6. **References** are plain id strings (or arrays of ids) in the relation
   fields declared by the bundle type. Every reference must resolve to an
   entity of an allowed target type.
7. **Files.** New entities are written under their type's directory using
   its file pattern. Existing files keep their format, key order and
   comments for untouched fields.

## Dry run

Pass ` + "`dry_run: true`" + ` to apply_changes to validate a batch in memory
without writing anything. The response lists the diagnostics the batch
would produce.

## Example

` + "```" + `json
{"changes": [
  {"entityType": "Task", "entityId": "TASK-002",
   "newValue": {"title": "Lockout counter", "requirementId": "REQ-001"}},
  {"entityType": "Requirement", "entityId": "REQ-001",
   "fieldPath": "status", "newValue": "approved"}
]}
` + "```" + `
`
