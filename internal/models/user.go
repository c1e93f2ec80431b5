package models

import "time"

// User 知识库所有者的最小引用。认证与资料管理由外部协作系统负责，
// 这里只保留外键完整性需要的字段。
type User struct {
	UserID     uint      `gorm:"primaryKey;column:user_id" json:"user_id"`
	Username   string    `gorm:"size:100;not null;uniqueIndex" json:"username"`
	CreateTime time.Time `gorm:"column:create_time" json:"create_time"`
}

func (User) TableName() string {
	return "users"
}
