package models

func ModelsToAutoMigrate() []interface{} {
	return []interface{}{
		&DocumentTypeLatestNumber{}, // Must be first - document numbering depends on it
		&Document{},
		&DocumentApprover{},
		&DocumentFile{},
		&AuditEntry{},
	}
}
