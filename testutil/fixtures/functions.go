// =============================================================================
// 📦 函数源码样例
// =============================================================================
// 三种运行时下语义一致的用户函数，供执行器、调度器与端到端测试复用
//
// 使用方法:
//
//	src := fixtures.Add[runtime.Lua]
//	fn, err := ex.Compile("lua", src, fixtures.AddEntry)
// =============================================================================
package fixtures

// 入口函数名
const (
	AddEntry     = "add"
	SpinEntry    = "spin"
	EchoEntry    = "echo"
	RecurseEntry = "recurse"
)

// Add 返回 params.a + params.b
var Add = map[string]string{
	"javascript": `function add(p) { return p.a + p.b; }`,
	"python": `
def add(p):
    return p["a"] + p["b"]
`,
	"lua": `
function add(p)
  return p.a + p.b
end
`,
}

// Spin 永不返回，用于超时测试
var Spin = map[string]string{
	"javascript": `function spin() { for (;;) {} }`,
	"python": `
def spin():
    n = 0
    for _ in range(1000000000):
        for _ in range(1000000000):
            n += 1
`,
	"lua": `
function spin()
  while true do end
end
`,
}

// Echo 原样返回输入
var Echo = map[string]string{
	"javascript": `function echo(p) { return p; }`,
	"python": `
def echo(p):
    return p
`,
	"lua": `
function echo(p)
  return p
end
`,
}

// Recurse 无终止条件地递归，用于调用栈上限测试
var Recurse = map[string]string{
	"javascript": `function recurse(p) { return 1 + recurse(p); }`,
	"python": `
def recurse(p):
    return recurse(p)
`,
	"lua": `
function recurse(p)
  return 1 + recurse(p)
end
`,
}
