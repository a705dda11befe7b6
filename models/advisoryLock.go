package models

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireConflictLock serializes conflict open/refresh per business across
// instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB (transaction) that will do the registry writes.
func AcquireConflictLock(tx *gorm.DB, businessId string) error {
	lockName := fmt.Sprintf("conflict:%s", businessId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire conflict lock for business_id=%s", businessId)
	}
	return nil
}

func ReleaseConflictLock(tx *gorm.DB, businessId string) {
	lockName := fmt.Sprintf("conflict:%s", businessId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
