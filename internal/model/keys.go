package model

import (
	"fmt"
	"path"
	"strings"
)

// FileNodeID 文件在图存储中的节点 ID，由仓库 ID 与相对路径确定
func FileNodeID(repositoryID int64, filePath string) string {
	return fmt.Sprintf("file-%d-%s", repositoryID, filePath)
}

// EntityNodeID 代码实体在图存储中的节点 ID
func EntityNodeID(repositoryID int64, filePath, name string) string {
	return fmt.Sprintf("entity-%d-%s-%s", repositoryID, filePath, name)
}

// FileTypeOf 根据扩展名推断文件类型，如 "src/a.tsx" -> "tsx"
func FileTypeOf(filePath string) string {
	ext := path.Ext(filePath)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
