package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory builds the repository set once per database handle
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

func NewFactory(db *gorm.DB) *Factory {
	return &Factory{db: db}
}

// GetRepositories returns the shared repository set
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

var (
	globalFactory *Factory
	factoryOnce   sync.Once
)

// InitializeFactory binds the process-wide factory to db. Later calls are ignored.
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalRepositories returns the repositories of the process-wide factory
func GetGlobalRepositories() *Repositories {
	if globalFactory == nil {
		panic("repository factory not initialized, call InitializeFactory first")
	}
	return globalFactory.GetRepositories()
}
