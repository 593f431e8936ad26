//go:build ignore
// +build ignore

// ^^^ 在运行 go run compare_debug.go 之前，请注释掉上面这两行

package main

import (
	"PICs_Importer/pkg/hasher"
	"fmt"
	"log"
	"os"
)

func main() {
	log.Println("========================================")
	log.Println("===     重复判定与哈希诊断工具       ===")
	log.Println("========================================")

	// 1. 检查命令行参数
	if len(os.Args) != 3 {
		log.Fatalf("错误: 需要提供两个文件路径作为参数。\n用法: go run compare_debug.go <文件路径1> <文件路径2>")
	}

	pathA := os.Args[1]
	pathB := os.Args[2]

	// 2. 打印基础信息
	for _, p := range []string{pathA, pathB} {
		info, err := os.Stat(p)
		if err != nil {
			log.Fatalf("错误: 无法读取 %s: %v", p, err)
		}
		sha, err := hasher.CalculateSHA256(p)
		if err != nil {
			log.Fatalf("错误: 计算 %s 的哈希失败: %v", p, err)
		}
		fmt.Printf("文件: %s\n  大小: %d 字节\n  SHA-256: %s\n", p, info.Size(), sha)
	}

	// 3. 走与分配器完全相同的三态判定路径
	verdict, err := hasher.Compare(pathA, pathB)
	if err != nil {
		log.Fatalf("错误: 比较失败: %v", err)
	}
	fmt.Printf("\n三态判定结果: %v\n", verdict)

	// 4. 感知哈希诊断（只对可解码的图片有意义）
	phashA, errA := hasher.CalculatePerceptualHash(pathA)
	phashB, errB := hasher.CalculatePerceptualHash(pathB)
	if errA != nil || errB != nil {
		fmt.Println("感知哈希: 至少一侧不可解码，跳过")
		return
	}
	fmt.Printf("感知哈希 A: %s\n", phashA)
	fmt.Printf("感知哈希 B: %s\n", phashB)
	if phashA == phashB {
		fmt.Println("=> 感知哈希一致：极可能是同一画面的不同编码")
	} else {
		fmt.Println("=> 感知哈希不同：应当是不同的画面")
	}
}
