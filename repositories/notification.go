package repositories

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

var _ contract.INotificationRepository = NotificationRepository{}

type NotificationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewNotificationRepository(db *badger.DB, log *slog.Logger) NotificationRepository {
	return NotificationRepository{db: db, log: log}
}

func (r NotificationRepository) SaveJob(job domain.NotificationJob) error {
	return update(r.db, func(txn *badger.Txn) error {
		return setJSON(txn, jobKey(job), job)
	})
}

func (r NotificationRepository) DeleteJob(job domain.NotificationJob) error {
	return update(r.db, func(txn *badger.Txn) error {
		return txn.Delete(jobKey(job))
	})
}

// ListJobs returns every job, oldest first.
func (r NotificationRepository) ListJobs() ([]domain.NotificationJob, error) {
	var jobs []domain.NotificationJob
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(jobPrefix)
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job domain.NotificationJob
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, err
}
