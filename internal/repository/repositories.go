package repository

import "log/slog"

// Repositories bundles every repository over one database.
type Repositories struct {
	DB       *DB
	Sessions SessionRepository
	Versions VersionRepository
	Files    FileRepository
	Results  ResultRepository
	Cache    CacheEntryRepository
}

func NewRepositories(db *DB, logger *slog.Logger) *Repositories {
	return &Repositories{
		DB:       db,
		Sessions: NewSessionRepository(db, logger),
		Versions: NewVersionRepository(db, logger),
		Files:    NewFileRepository(db, logger),
		Results:  NewResultRepository(db, logger),
		Cache:    NewCacheEntryRepository(db, logger),
	}
}
