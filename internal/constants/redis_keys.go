package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// JobModulePrefix 岗位模块
	JobModulePrefix = "job"
	// FileModulePrefix 文件模块
	FileModulePrefix = "file"

	// EntityRequirements 岗位要求实体
	EntityRequirements = "requirements"
	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"
	// EntityMD5ToUUID MD5到文档UUID的映射实体
	EntityMD5ToUUID = "md5_to_uuid"

	// KeyJobRequirements 岗位要求缓存 (STRING, JSON)
	// 格式: app:job:requirements:{jobID}
	KeyJobRequirements = AppPrefix + ":" + JobModulePrefix + ":" + EntityRequirements + ":%s"

	// KeyFileMD5Set 原始文件MD5集合，用于上传去重 (SET)
	// 格式: app:file:dedup_set
	KeyFileMD5Set = AppPrefix + ":" + FileModulePrefix + ":" + EntityDedupSet

	// KeyFileMD5ToDocumentUUID MD5到文档UUID的映射 (STRING)
	// 格式: app:file:md5_to_uuid:{md5}
	KeyFileMD5ToDocumentUUID = AppPrefix + ":" + FileModulePrefix + ":" + EntityMD5ToUUID + ":%s"
)
