package db

const (
	tableDialog  = "dialog"
	tableFinding = "finding"
	tableUser    = "app_user"
	tableCounter = "counter"
)

// SchemaSQL contains the database schema initialization SQL.
// Records use integer ids allocated from the counter table, so ids grow
// monotonically and are never reused after a delete.
const SchemaSQL = `
    -- ==========================================================================
    -- USER TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS app_user SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS email ON app_user TYPE string;
    DEFINE FIELD IF NOT EXISTS trusted_sites ON app_user TYPE array<string> DEFAULT [];
    DEFINE INDEX IF NOT EXISTS app_user_email ON app_user FIELDS email UNIQUE;

    -- ==========================================================================
    -- DIALOG TABLE
    -- ==========================================================================
    -- chat_history is an ordered array of {role, content} objects
    DEFINE TABLE IF NOT EXISTS dialog SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS user_id ON dialog TYPE int;
    DEFINE FIELD IF NOT EXISTS title ON dialog TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON dialog TYPE datetime;
    DEFINE FIELD IF NOT EXISTS updated_at ON dialog TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS dialog_user_id ON dialog FIELDS user_id;

    -- ==========================================================================
    -- FINDING TABLE
    -- ==========================================================================
    -- No record link to dialog: deleting a dialog removes its findings explicitly
    DEFINE TABLE IF NOT EXISTS finding SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS dialog_id ON finding TYPE int;
    DEFINE FIELD IF NOT EXISTS title ON finding TYPE string;
    DEFINE FIELD IF NOT EXISTS status ON finding TYPE string DEFAULT "new";
    DEFINE FIELD IF NOT EXISTS non_relevance_mark ON finding TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS created_at ON finding TYPE datetime;
    DEFINE FIELD IF NOT EXISTS updated_at ON finding TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS finding_dialog_id ON finding FIELDS dialog_id;

    -- ==========================================================================
    -- COUNTER TABLE (id sequences, one record per table)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS counter SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS seq ON counter TYPE int DEFAULT 0;
`
