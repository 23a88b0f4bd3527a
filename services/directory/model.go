package directory

import "time"

// User is a read-only view of the firm's user table, maintained by the user
// management service.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(150)" json:"name"`
	Email     string    `gorm:"column:email;type:varchar(200)" json:"email"`
	Role      string    `gorm:"column:role;type:varchar(20)" json:"role"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (User) TableName() string { return "users" }

type Client struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(200)" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Client) TableName() string { return "clients" }
