package inmemdb

import (
	"sync"

	"github.com/edulane/shule/core/user"
)

type (
	DB struct {
		user *userTable
	}

	userTable struct {
		sync.RWMutex
		table   map[int]*user.User
		pkCount int
	}
)

func Open() (*DB, error) {
	db := &DB{
		user: &userTable{table: make(map[int]*user.User)},
	}
	return db, nil
}
