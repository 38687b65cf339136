// Package daytona 提供 Daytona 沙箱平台的 Go SDK，用于创建和管理隔离的云端开发与代码执行环境。
//
// # 核心概念
//
//   - Sandbox: 隔离的执行环境，状态包括 started、stopped、archived、error 等
//   - Snapshot: 预构建的沙箱镜像，可以从已有镜像或声明式 Image 构建
//   - Volume: 可挂载到多个沙箱的持久化存储
//   - toolbox: 运行在沙箱内部的代理，提供文件系统、进程、PTY、Git、LSP、解释器与桌面操作
//
// # 快速开始
//
// 创建客户端并启动沙箱:
//
//	c, err := daytona.NewClient(daytona.Config{
//	    APIKey: os.Getenv("DAYTONA_API_KEY"),
//	})
//	defer c.Close()
//
//	sb, err := c.Create(ctx, daytona.CreateParams{Language: daytona.LanguagePython},
//	    daytona.WithTimeout(60*time.Second))
//	defer sb.Delete(context.Background())
//
//	resp, err := sb.Process().Exec(ctx, "echo hello")
//	fmt.Print(resp.Result)
//
// # 配置
//
// Config 中未设置的字段依次从环境变量（会先加载 .env.local 与 .env）、
// DAYTONA_CONFIG_FILE 指定的配置文件中读取，最后使用默认值。
//
// # 状态等待
//
// 生命周期操作默认等待沙箱进入目标状态。客户端通过事件总线接收状态推送，
// 连接不可用时退化为轮询；WithTimeout(0) 表示不设超时。
// 不接受 Option 的方法只受调用方 ctx 的截止时间约束，超时同样归类为 KindTimeout。
//
// # 错误处理
//
// 所有错误都可以用 IsNotFound、IsTimeout、IsValidation 等函数判断类别，
// 或用 errors.As 取得 *Error 查看状态码与原始原因。
package daytona
