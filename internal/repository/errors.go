package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound indica que la fila buscada no existe.
var ErrNotFound = errors.New("repository: not found")

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
