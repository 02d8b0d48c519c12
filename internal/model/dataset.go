package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// 数据集类型
const (
	DatasetKindBulk       = "bulk"
	DatasetKindSingleCell = "single_cell"
)

// SampleFile 单个样本的输入文件（双端测序为一对 FASTQ）
type SampleFile struct {
	SampleID  string `json:"sample_id"`
	Read1Path string `json:"read1_path"`
	Read2Path string `json:"read2_path,omitempty"`
	Condition string `json:"condition,omitempty"` // 实验条件标签，如 control / treatment
}

// SampleFiles JSON 数组字段
type SampleFiles []SampleFile

func (s SampleFiles) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *SampleFiles) Scan(value interface{}) error {
	if value == nil {
		*s = SampleFiles{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// Dataset 数据集：一次上传的原始测序文件或表达矩阵
type Dataset struct {
	ID         int64       `gorm:"primaryKey" json:"id"`
	UserID     int64       `gorm:"not null;index" json:"user_id"`
	Name       string      `gorm:"size:200;not null" json:"name"`
	Organism   string      `gorm:"size:50;default:human" json:"organism"`
	Kind       string      `gorm:"size:20;not null;default:bulk" json:"kind"` // bulk, single_cell
	UploadID   string      `gorm:"size:64" json:"upload_id,omitempty"`
	MatrixPath string      `gorm:"size:500" json:"matrix_path,omitempty"`
	Samples    SampleFiles `gorm:"type:json" json:"samples,omitempty"`
	Metadata   JSONMap     `gorm:"type:json" json:"metadata,omitempty"` // 样本元数据（sample -> condition 等）
	Status     string      `gorm:"size:20;default:ready;index" json:"status"`
	CreatedAt  time.Time   `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`

	// 关联
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Dataset) TableName() string {
	return "datasets"
}
